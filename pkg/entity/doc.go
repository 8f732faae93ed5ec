/*
Package entity defines the plain value types shared by the node, registry and
volume packages: Pool, Replica and Nexus (the objects a storage node reports)
plus Volume (the object the control plane synthesizes on top of them). None
of these types own a network connection or a goroutine -- they are merged
into and read out of the owning Node/Registry/Volume objects, which is where
the behavior lives.
*/
package entity
