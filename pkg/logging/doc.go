// Package logging provides the structured logging facade used across the
// devservers daemon: a package-level slog.Logger, initialized once from
// the serve command in package cmd, with Debug/Info/Warn/Error helpers that tag every entry
// with a subsystem name for easy filtering.
package logging
