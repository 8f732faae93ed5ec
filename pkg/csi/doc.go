// Package csi serves the CSI Identity and Controller services over a Unix
// domain socket, translating north-bound calls into volume.Manager and
// registry.Registry operations (component C6).
package csi
