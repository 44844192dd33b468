package httpapi

import (
	"bufio"
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/park285/vibechess-server/internal/domain"
	"github.com/park285/vibechess-server/internal/store"
)

// handleEvents streams match events over SSE. Connecting to a paused
// in-progress game resumes its loop; the pause flag is cleared before the
// launch so concurrent reconnects cannot double-start it.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	ctx := c.UserContext()
	code := c.Params("code")

	m, err := s.repo.GetMatch(ctx, code)
	if errors.Is(err, store.ErrMatchNotFound) {
		return s.notFound(c)
	}
	if err != nil {
		return s.internalError(c, err)
	}

	if m.IsPaused && m.Status == domain.StatusInProgress {
		s.logger.Info("viewer connected, resuming paused game", zap.String("game_code", code))
		m.IsPaused = false
		if err := s.repo.UpdateMatch(ctx, m); err != nil {
			return s.internalError(c, err)
		}
		if err := s.launcher.Launch(s.baseCtx, code); err != nil {
			return s.internalError(c, err)
		}
	}

	// Subscribe before the stream writer starts so events broadcast between
	// now and the first write are not lost.
	sub := s.bus.Subscribe(code)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := s.logger
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		// Initial comment line confirms the stream to the client.
		if _, err := w.WriteString(":\n\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}

		streamCtx := context.Background()
		for {
			data, ok := sub.Next(streamCtx)
			if !ok {
				return
			}
			if _, err := w.WriteString("data: "); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.WriteString("\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				// Client went away; dropping the subscriber lets the loop
				// notice the empty room.
				logger.Debug("sse client disconnected", zap.String("game_code", code))
				return
			}
		}
	})
	return nil
}
