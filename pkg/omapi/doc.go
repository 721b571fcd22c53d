// Package omapi implements the client side of the ISC object management API
// (OMAPI) used to inspect and modify objects of a running ISC DHCP server.
//
// Only the subset required to maintain host reservations is implemented:
// authentication, opening (querying or creating) objects and deleting them.
// A Conn is strictly sequential. At most one submitted operation may be in
// flight and the caller is expected to Wait for it before submitting the next
// one.
//
//	rt := omapi.Initialize()
//	defer rt.Shutdown()
//
//	conn, err := rt.Dial(ctx, "10.0.0.1:7911", omapi.Key{
//		Name:      "omapi_key",
//		Algorithm: omapi.HMACMD5,
//		Secret:    "c2VjcmV0",
//	})
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	host, err := conn.NewObject("host")
//	...
//	defer host.Release()
package omapi
