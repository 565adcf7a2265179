// Command build-index classifies areas offline and stores their containment
// indexes, so the API never builds large grids on the request path.
//
// Usage:
//
//	build-index [-env .env] [-cell-size 0.005] [-estimate] [-all | -srid 4326 | area-id ...]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/stwalsh4118/areaindex/internal/cache"
	"github.com/stwalsh4118/areaindex/internal/config"
	"github.com/stwalsh4118/areaindex/internal/database"
	"github.com/stwalsh4118/areaindex/internal/logger"
	"github.com/stwalsh4118/areaindex/internal/models"
	"github.com/stwalsh4118/areaindex/internal/repository"
	"github.com/stwalsh4118/areaindex/internal/services"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	cellSize := flag.Float64("cell-size", 0, "cell size in SRID units; 0 uses INDEX_CELL_SIZE")
	estimate := flag.Bool("estimate", false, "report grid sizes without building")
	all := flag.Bool("all", false, "process every stored area")
	srid := flag.Int("srid", -1, "process every area in this SRID")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithOptions(logger.Options{Env: cfg.Server.Env, Level: cfg.Server.LogLevel}).
		WithComponent("build_index")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"name": cfg.Database.Name,
		})
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, log); err != nil {
			log.Fatal("Failed to apply migrations", err, nil)
		}
	}

	deps := services.Deps{
		Areas:   repository.NewAreaRepository(db),
		Indexes: repository.NewIndexRepository(db),
	}
	// Refresh the cached copy. API instances that already published this
	// area in memory keep serving their own index until they restart.
	if client := cache.OpenRedis(cfg.Redis); client != nil {
		defer client.Close()
		deps.Cache = cache.NewRedisIndexCache(client, cfg.Redis.TTL, log)
	}

	service := services.NewAreaService(deps, services.Options{
		CellSize:     cfg.Index.CellSize,
		MaxCells:     cfg.Index.MaxCells,
		BuildWorkers: cfg.Index.BuildWorkers,
		CheckSimple:  cfg.Index.CheckSimple,
	}, log)

	ids, err := selectAreas(ctx, service, *all, *srid, flag.Args())
	if err != nil {
		log.Fatal("Failed to select areas", err, nil)
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "no areas selected: pass area ids, -srid or -all")
		os.Exit(2)
	}

	failed := 0
	for i, id := range ids {
		if ctx.Err() != nil {
			log.Warn("Interrupted", map[string]interface{}{"remaining": len(ids) - i})
			break
		}

		if *estimate {
			est, err := service.EstimateIndex(ctx, id, *cellSize)
			if err != nil {
				failed++
				log.Error("Estimate failed", err, map[string]interface{}{"area_id": id})
				continue
			}
			fmt.Printf("area %d srid %d: %d x %d = %d cells at %g (limit %d, allowed %t)\n",
				est.AreaID, est.SRID, est.Columns, est.Rows, est.Cells, est.CellSize, est.MaxCells, est.Allowed)
			continue
		}

		summary, err := service.BuildIndex(ctx, id, *cellSize)
		if err != nil {
			failed++
			log.Error("Build failed", err, map[string]interface{}{"area_id": id})
			continue
		}
		fmt.Printf("area %d srid %d: %d within, %d overlaps at %g\n",
			summary.AreaID, summary.SRID, summary.Within, summary.Overlaps, summary.CellSize)
	}

	if failed > 0 {
		log.Error("Some areas failed", nil, map[string]interface{}{"failed": failed, "total": len(ids)})
		os.Exit(1)
	}
}

// selectAreas resolves the command line into area ids.
func selectAreas(ctx context.Context, service services.AreaService, all bool, srid int, args []string) ([]int64, error) {
	if len(args) > 0 {
		ids := make([]int64, 0, len(args))
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid area id %q: %w", arg, err)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	var filter services.AreaFilter
	switch {
	case srid >= 0:
		s := models.SRID(srid)
		filter.SRID = &s
	case !all:
		return nil, nil
	}

	areas, err := service.ListAreas(ctx, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(areas))
	for _, a := range areas {
		ids = append(ids, a.ID)
	}
	return ids, nil
}
