// Package mode tracks whether scans are decided by the remote authority or
// by the local engine.
//
// Two inputs are held independently: the operator's offline-mode switch and
// observed connectivity. The effective mode is derived from both on every
// read and never cached, since connectivity can change between two scans.
// Callers that need one consistent view for a whole decision take a
// Snapshot and pass the State along.
package mode
