// Package fleet implements the hub side of fleet aggregation: one connection
// per configured node feeding a shared record table, merged on demand into a
// cluster view.
package fleet
