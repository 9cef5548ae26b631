package main

import (
	"context"

	"hemnet-harvester/cmd/harvester/commands"
	"hemnet-harvester/lib/serviceutil"
	"hemnet-harvester/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	t, err := telemetry.SetupFromEnv(context.Background(), "harvester")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InitSlog(true)
	telemetry.InstrumentPerfStats(ctx)

	commands.ExecuteContext(ctx)
}
