// Package sysid holds the handful of identifier types shared across the
// page-table manager, the interrupt fabric, and the security kernel, so
// none of them need to import one another just to name a CPU core.
package sysid

// CoreID identifies a CPU core.
type CoreID uint32
