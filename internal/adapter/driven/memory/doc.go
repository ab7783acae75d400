// Package memory provides in-process implementations of the persistence
// ports. They back REELQUEUE_STORAGE=memory and serve as fakes in tests.
// Nothing survives a restart.
package memory
