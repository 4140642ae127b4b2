// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command aleutian-sync synchronizes workspace snapshots between a
// developer machine (the primary) and remote workers.
//
// Usage:
//
//	aleutian-sync primary --root ~/src/project
//	aleutian-sync serve --primary-url http://dev-box:9091 --follow
//	aleutian-sync version
//
// Example requests against a worker:
//
//	curl http://localhost:9090/v1/remote/health
//
//	curl -X POST http://localhost:9090/v1/remote/snapshot \
//	  -H "Content-Type: application/json" \
//	  -d '{"checksum": "<64 hex chars>"}'
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
