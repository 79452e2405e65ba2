// Package ui holds console reporting for the harvester: colored messages,
// per-window batch progress, the run summary and optional desktop notifications.
package ui
