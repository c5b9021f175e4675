// Package rebuild recompiles source files whenever they change on disk.
//
// A WatchRule names a source directory, a glob or regex filter, an output
// directory and extension, and an external compiler. Run watches every rule's
// directory tree and, for each added or modified file that matches, invokes
//
//	<command> [args...] <source file> <output file>
//
// streaming the compiler's combined output to a writer as it arrives.
//
//	rules := []rebuild.WatchRule{{
//		SourceDir: "webdev/templates",
//		Glob:      "*.haml",
//		OutputDir: "web/templates",
//		OutputExt: ".html",
//		Command:   "haml",
//	}}
//	err := rebuild.Run(ctx, rules, rebuild.Options{Out: os.Stdout})
//
// Build compiles every matching file once without watching:
//
//	result, err := rebuild.Build(ctx, rules, rebuild.BuildOptions{Workers: 8})
//	fmt.Printf("%d of %d compiled\n", result.Succeeded, result.Matched)
//
// A compiler that fails does not stop the watch. Errors returned before any
// watching starts are *StartupError values.
package rebuild
