// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package main is the entry point for the Marquee server.

Marquee answers "recommendations for user U" from a lambda-style pipeline:
a scheduled batch layer precomputes top-N lists into an in-process cache,
a speed layer invalidates a user's entry as soon as they act, and the
serving layer picks between the cached list, a fresh model call and a
merge of the two. A Thompson-sampling bandit learns per user which
recommendation strategy to favour.

# Application Architecture

	RootSupervisor ("marquee")
	├── DataSupervisor ("data-layer")
	│   └── badger value-log GC (STORAGE_BACKEND=badger)
	├── PipelineSupervisor ("pipeline-layer")
	│   ├── event bus (watermill, speed-layer consumer)
	│   └── batch scheduler (BATCH_SCHEDULER_ENABLED=true)
	└── APISupervisor ("api-layer")
	    └── HTTP server (chi)

Initialization order:

 1. Configuration: koanf v2 (defaults, config.yaml, environment)
 2. Logging: zerolog
 3. GOMAXPROCS from the container CPU quota (automaxprocs)
 4. Store: in-memory or BadgerDB
 5. Candidate model: popularity, co-visitation and content scorers
 6. Bandit selector
 7. Lambda layers: cache, batch, speed, serving, orchestrator
 8. Event bus and HTTP router
 9. Supervisor tree

# Configuration

Environment variables override config.yaml, which overrides the built-in
defaults. Common ones:

	HTTP_PORT=8080
	STORAGE_BACKEND=badger
	BADGER_PATH=/var/lib/marquee
	BATCH_INTERVAL=12h
	BATCH_RUN_ON_STARTUP=true
	LOG_LEVEL=debug

CONFIG_PATH points at a YAML file.

# Signal Handling

SIGINT and SIGTERM cancel the supervisor tree. The HTTP server drains
within HTTP_SHUTDOWN_TIMEOUT before the bus and store are closed.
*/
package main
