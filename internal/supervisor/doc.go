// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package supervisor provides process supervision for Marquee using suture v4.

# Overview

Long-running services are grouped into three child supervisors so that a
crash in one layer restarts only that layer:

	RootSupervisor ("marquee")
	├── DataSupervisor ("data-layer")
	│   └── GCService (badger backend only)
	├── PipelineSupervisor ("pipeline-layer")
	│   ├── event bus (speed-layer consumer)
	│   └── SchedulerService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

The API keeps answering from the recommendation cache while the pipeline
layer restarts.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.TreeConfig{})
	if err != nil {
	    return err
	}
	tree.AddPipelineService(bus)
	tree.AddPipelineService(services.NewSchedulerService(orch, schedCfg, logger))
	tree.AddAPIService(services.NewHTTPServerService(server, services.HTTPServerConfig{Addr: addr}, logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    return err
	}

# Events

Supervisor events (start, stop, failure, backoff) are logged through
sutureslog, which takes a *slog.Logger. logging.NewSlogLogger bridges that
to zerolog.
*/
package supervisor
