package state

import (
	"sync"
	"time"

	"github.com/pganalyze/sqlserver-collector/config"
)

type CollectionOpts struct {
	CollectorApplicationName string

	SubmitCollectedData bool
	TestRun             bool
	TestSection         string
	OutputAsJson        bool
}

type Server struct {
	Config config.ServerConfig

	ActivityPrevState PersistedActivityState

	// Serializes activity polls for this server, and guards ActivityPrevState
	ActivityStateMutex *sync.Mutex

	// Events submitted since SubmitStatsTime, logged once per minute
	SubmitStats      map[string]int
	SubmitStatsTime  time.Time
	SubmitStatsMutex *sync.Mutex
}

func MakeServer(config config.ServerConfig) *Server {
	return &Server{
		Config:             config,
		ActivityStateMutex: &sync.Mutex{},
		SubmitStats:        make(map[string]int),
		SubmitStatsMutex:   &sync.Mutex{},
	}
}

// RecordSubmission counts a successfully submitted event of the given kind
func (s *Server) RecordSubmission(kind string, rows int) {
	s.SubmitStatsMutex.Lock()
	defer s.SubmitStatsMutex.Unlock()
	if s.SubmitStatsTime.IsZero() {
		s.SubmitStatsTime = time.Now().Truncate(time.Minute)
	}
	s.SubmitStats[kind+" events"]++
	s.SubmitStats[kind+" rows"] += rows
}

// TakeSubmitStats returns the counters collected so far and resets them
func (s *Server) TakeSubmitStats() (stats map[string]int, since time.Time) {
	s.SubmitStatsMutex.Lock()
	defer s.SubmitStatsMutex.Unlock()
	stats = s.SubmitStats
	since = s.SubmitStatsTime
	s.SubmitStats = make(map[string]int)
	s.SubmitStatsTime = time.Now().Truncate(time.Minute)
	return
}
