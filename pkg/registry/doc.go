/*
Package registry defines the NodeRegistry contract through which the control
plane reads live node state, plus two implementations: StoreRegistry wraps
persistent storage and carries the write operations used by node admission,
and MemoryRegistry serves tests and externally fed inventories.
*/
package registry
