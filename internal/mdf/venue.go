package mdf

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// VenueStream is the spec.md §6.1 streaming contract: any source producing
// these fields is an acceptable venue feed. Implementations read from a
// venue's wire format and push into the channel until ctx is cancelled.
type VenueStream interface {
	Venue() string
	Run(ctx context.Context, out chan<- Tick, onError func(venue, msg string)) error
}

// WSStream is a VenueStream backed by a gorilla/websocket connection,
// grounded on the teacher's internal/data/ws/binance.go client shape.
type WSStream struct {
	venue string
	url   string
	log   zerolog.Logger
	dial  func(url string) (*websocket.Conn, error)
	parse func(raw []byte) (Tick, error)
}

// NewWSStream constructs a websocket-backed venue stream. parse converts
// one wire message into a Tick; dial defaults to websocket.DefaultDialer.
func NewWSStream(venue, url string, parse func([]byte) (Tick, error), log zerolog.Logger) *WSStream {
	return &WSStream{
		venue: venue,
		url:   url,
		log:   log.With().Str("component", "mdf.venue").Str("venue", venue).Logger(),
		dial: func(u string) (*websocket.Conn, error) {
			c, _, err := websocket.DefaultDialer.Dial(u, nil)
			return c, err
		},
		parse: parse,
	}
}

func (s *WSStream) Venue() string { return s.venue }

// Run connects and reads frames until ctx is cancelled, reconnecting with
// bounded exponential backoff (spec.md §4.1 failure semantics) wrapped in
// a circuit breaker so a persistently failing venue stops being retried
// in a tight loop.
func (s *WSStream) Run(ctx context.Context, out chan<- Tick, onError func(venue, msg string)) error {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.venue,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
	})

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, err := breaker.Execute(func() (any, error) {
			conn, dialErr := s.dial(s.url)
			if dialErr != nil {
				return nil, dialErr
			}
			defer conn.Close()
			attempt = 0
			for {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
				}
				_, raw, readErr := conn.ReadMessage()
				if readErr != nil {
					return nil, readErr
				}
				tick, parseErr := s.parse(raw)
				if parseErr != nil {
					onError(s.venue, parseErr.Error())
					continue
				}
				select {
				case out <- tick:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		})

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			onError(s.venue, fmt.Sprintf("stream error: %v", err))
			backoff := time.Duration(math.Min(float64(time.Second)*math.Pow(2, float64(attempt)), float64(30*time.Second)))
			attempt++
			s.log.Warn().Err(err).Dur("backoff", backoff).Msg("venue stream reconnecting")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
