// Package catalog defines the data model shared by every component that
// reads or mutates the service catalog: Service, Project, port modes and
// source tags, and the name-charset validation (spec.md §3, §6) that the
// Catalog Store enforces. The Compose Loader does not run this validation on
// the names it builds.
package catalog
