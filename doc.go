// Package trellis is an incremental build engine for Odoo-flavoured Python.
// It keeps a cross-file symbol graph of an Odoo installation, its addon
// paths and any loose file opened in an editor, and re-analyses only what a
// change invalidates.
//
// # Pipeline
//
// Every python file goes through ordered build steps:
//
//  1. ARCH: declare the names of the file, with the flow sections that
//     decide where each name is visible.
//  2. ARCH_EVAL: resolve imports and evaluate assignments.
//  3. ODOO: register the Odoo models declared by the file's classes.
//  4. VALIDATION: build function bodies, run the checks and the scripted
//     rule catalogue, and report diagnostics.
//
// A step records the symbols it read as dependencies. When a file changes,
// is created or disappears, the dependents of its symbols are queued again
// at the step that read them, and the scheduler drains the queues in
// dependency order.
//
// # Usage
//
// Create a Session from a configuration, initialise it, then feed it editor
// and file-system events:
//
//	cfg, err := config.Load("trellis.yaml")
//	if err != nil { ... }
//	s, err := trellis.New(cfg, trellis.WithStore(".trellis/snapshot.db"))
//	if err != nil { ... }
//	defer s.Close()
//
//	ctx := context.Background()
//	err = s.Init(ctx)
//	err = s.DidOpen(ctx, "/work/addons/sale/models/order.py", content, 1)
//	diags := s.Diagnostics("/work/addons/sale/models/order.py")
//
// # Refresh
//
// Edits are rebuilt according to the refresh mode of the configuration. In
// adaptive mode a small queue is drained at once and a large one is handed
// to a delayed continuation started by [Session.Start], which coalesces
// bursts of events into one drain.
//
// # Snapshot
//
// With [WithStore], the session exports files, declarations, evaluations,
// modules, models, dependency edges and diagnostics to SQLite after every
// drain. The snapshot serves the query commands of cmd/trellis; it is never
// read back into the graph.
package trellis
