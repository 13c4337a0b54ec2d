// Package offcache keeps a web app usable offline. It stores versioned
// snapshots of the app's resources and answers the app's requests from them
// when the network is unavailable.
//
// Components:
//   - Storage / Store: named, versioned stores of request identity -> response
//     snapshot, over a byte Provider (bigcache, ristretto, redis, disk).
//   - Manifest: the version tag plus the required and optional resources a
//     version must hold before it may serve.
//   - Controller: one version's lifecycle (install -> activate), coordinated
//     across versions by a Registration.
//   - Proxy: answers requests from the active version's store, falls back to the
//     network and fills the store opportunistically.
//
// Keys:
//
//	entry:<ns>:<store>:<METHOD> <url>  - snapshots
//	catalog:<ns>                       - store names, generations, key index
//	store:<ns>:<name>                  - generation of a store (in the GenStore)
//
// A store is deleted by bumping its generation, so deletion is atomic for all
// readers and entries of a deleted store can never be served again.
//
// Typical use:
//
//	st, _ := offcache.New(offcache.Options{Namespace: "speakeasy", Provider: p})
//	reg, _ := offcache.NewRegistration(offcache.RegistrationOptions{Storage: st, Origin: origin})
//	_, _ = reg.Update(ctx, offcache.DefaultManifest())
//	px, _ := offcache.NewProxy(offcache.ProxyOptions{Registration: reg, Origin: origin})
//	http.ListenAndServe(":8080", px)
package offcache
