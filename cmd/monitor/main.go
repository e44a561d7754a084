package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	redisConfig "github.com/meshcompute/dispatch/config/storage/redis"
	config "github.com/meshcompute/dispatch/config/utils"
	redisAdapter "github.com/meshcompute/dispatch/internal/adapter/storage/redis"
	"github.com/meshcompute/dispatch/internal/core/domain"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[37m"
)

// systemEvent is the subset of the global channel payload worth printing.
type systemEvent struct {
	Kind   string `json:"kind"`
	JobID  string `json:"job_id"`
	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	appConfig := config.New()

	fmt.Println(colorCyan + "🚀 Dispatch Activity Monitor Starting..." + colorReset)
	fmt.Println(colorGray + "Tailing the global events channel at " + appConfig.Redis.Addr + colorReset)
	fmt.Println("-------------------------------------------------------------------------")

	store, err := redisConfig.New(ctx, appConfig.Redis)
	if err != nil {
		fmt.Printf(colorRed+"Failed to connect to the state store: %v\n"+colorReset, err)
		return
	}
	defer store.Close()

	bus := redisAdapter.NewNotificationBus(store.Client, zap.NewNop())
	sub, err := bus.SubscribeEvents(ctx)
	if err != nil {
		fmt.Printf(colorRed+"Failed to subscribe: %v\n"+colorReset, err)
		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			fmt.Println(colorGray + "Monitor stopped." + colorReset)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				fmt.Println(colorGray + "Event channel closed." + colorReset)
				return
			}
			prettify(ev)
		}
	}
}

func prettify(ev domain.Event) {
	switch ev.Type {
	case domain.EventSystem:
		var s systemEvent
		if err := json.Unmarshal(ev.Payload, &s); err != nil {
			return
		}
		switch s.Kind {
		case "job_completed":
			fmt.Printf("✅ "+colorGreen+"Job Finished:"+colorReset+" %s by %s\n", s.JobID, s.NodeID)
		case "node_registered":
			fmt.Printf("🟢 "+colorGreen+"Node Joined:"+colorReset+"  %s\n", s.NodeID)
		case "node_evicted":
			fmt.Printf("🔴 "+colorRed+"Node Evicted:"+colorReset+" %s (%s)\n", s.NodeID, s.Reason)
		}
	case domain.EventSystemStats:
		var stats domain.QueueStats
		if err := json.Unmarshal(ev.Payload, &stats); err != nil {
			return
		}
		fmt.Printf("📊 "+colorBlue+"Cluster:"+colorReset+"      %d pending, %d nodes, %d completed\n",
			stats.PendingJobs, stats.ActiveNodes, stats.CompletedJobs)
	}
}
