// Package hal defines the hardware collaborators the blit engine drives:
// the raster device, the CPU cache, the shared clock/power domain and the
// map of device-visible memory banks.
//
// Real hardware bindings implement these interfaces outside this module.
// The Sim* types are deterministic in-process stand-ins used by the CLI,
// the scenario harness and tests.
package hal
