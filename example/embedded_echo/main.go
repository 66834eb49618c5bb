package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/loykin/ptyvisor"
)

// embedded_echo mounts the ptyvisor HTTP API inside an existing echo server.
func main() {
	base := os.Getenv("API_BASE")
	if base == "" {
		base = "/api"
	}

	core, err := ptyvisor.New(ptyvisor.Options{})
	if err != nil {
		log.Fatal(err)
	}
	h := core.Router(base).Handler()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Mount under base using Echo's WrapHandler
	e.Any(base, echo.WrapHandler(h))
	e.Any(base+"/*", echo.WrapHandler(h))

	// A demo shell so GET /api/processes has something to show.
	if _, err := core.Start(context.Background(), ptyvisor.Terminal, "demo", ptyvisor.SpawnConfig{
		Command: "while true; do echo demo; sleep 5; done",
	}); err != nil {
		log.Fatal(err)
	}

	go func() {
		log.Println("starting echo server on :8080 with base", base)
		if err := e.Start(":8080"); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = core.Shutdown(sctx)
	_ = e.Shutdown(sctx)
}
