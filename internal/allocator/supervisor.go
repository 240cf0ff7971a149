package allocator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/miniverse/matchmaker/internal/config"
)

var supervisorLogger = logrus.WithFields(logrus.Fields{
	"service":   "matchmaker",
	"component": "supervisor",
})

// room tracks one supervised game-server child process.
type room struct {
	matchID  string
	port     int
	players  int
	restarts int
	stopping bool
	// generation increments per spawn so a stale exit handler or a pending
	// restart timer can detect it lost the race with a release.
	generation int
	cmd        *exec.Cmd
	logFile    *os.File
}

// Supervisor spawns and monitors local game-server processes as an
// allocation backend. Ports are leased from the fixed range
// [basePort, basePort+maxRooms); a port belongs to at most one room.
type Supervisor struct {
	serverCmd      string
	logDir         string
	restartMax     int
	restartBackoff time.Duration

	mu             sync.Mutex
	rooms          map[string]*room
	availablePorts []int
}

// NewSupervisor creates a supervisor from host config. No processes are
// started until Allocate is called.
func NewSupervisor(cfg config.HostConfig) *Supervisor {
	s := &Supervisor{
		serverCmd:      cfg.ServerCmd,
		logDir:         cfg.LogDir,
		restartMax:     cfg.RestartMax,
		restartBackoff: cfg.RestartBackoff,
		rooms:          make(map[string]*room),
	}
	for i := 0; i < cfg.MaxRooms; i++ {
		s.availablePorts = append(s.availablePorts, cfg.BasePort+i)
	}
	return s
}

// Allocate leases a port and spawns a game-server child for the match.
// Returns false when no port is available or no server command is
// configured; it never panics past this boundary.
func (s *Supervisor) Allocate(matchID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serverCmd == "" {
		supervisorLogger.Warn("room_allocate_no_command")
		return "", false
	}
	if len(s.availablePorts) == 0 {
		supervisorLogger.WithField("match_id", matchID).Warn("room_allocate_no_ports")
		return "", false
	}

	port := s.availablePorts[0]
	s.availablePorts = s.availablePorts[1:]

	r := &room{matchID: matchID, port: port}
	if err := s.spawnLocked(r); err != nil {
		supervisorLogger.WithError(err).WithField("match_id", matchID).Error("room_spawn_failed")
		s.availablePorts = append(s.availablePorts, port)
		return "", false
	}

	s.rooms[matchID] = r
	supervisorLogger.WithFields(logrus.Fields{
		"match_id": matchID,
		"port":     port,
	}).Info("room_started")
	return fmt.Sprintf("127.0.0.1:%d", port), true
}

// spawnLocked starts the child process for a room and registers its exit
// handler. The caller holds s.mu.
func (s *Supervisor) spawnLocked(r *room) error {
	argv, err := renderCommand(s.serverCmd, r.matchID, r.port)
	if err != nil {
		return err
	}

	if r.logFile == nil {
		logPath := filepath.Join(s.logDir, fmt.Sprintf("room_%s.log", r.matchID))
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening room log: %w", err)
		}
		r.logFile = f
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = r.logFile
	cmd.Stderr = r.logFile
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting server process: %w", err)
	}

	r.cmd = cmd
	r.generation++
	gen := r.generation
	go func() {
		err := cmd.Wait()
		s.onExit(r.matchID, gen, err)
	}()
	return nil
}

// onExit handles a child process exit. Deliberate shutdowns (stopping set by
// Release) are ignored; unexpected exits are retried with linear backoff up
// to the restart cap.
func (s *Supervisor) onExit(matchID string, generation int, exitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[matchID]
	if !ok || r.generation != generation || r.stopping {
		return
	}

	r.cmd = nil
	r.restarts++
	if r.restarts > s.restartMax {
		// The room is abandoned: the match stays registered but orphaned.
		// Its port is reclaimed when the zombie sweep releases the match.
		supervisorLogger.WithFields(logrus.Fields{
			"match_id": matchID,
			"port":     r.port,
			"restarts": r.restarts - 1,
		}).Error("room_crash_fatal")
		return
	}

	delay := s.restartBackoff * time.Duration(r.restarts)
	supervisorLogger.WithFields(logrus.Fields{
		"match_id": matchID,
		"attempt":  r.restarts,
		"delay_ms": delay.Milliseconds(),
		"exit_err": fmt.Sprint(exitErr),
	}).Warn("room_crashed_restarting")

	gen := r.generation
	time.AfterFunc(delay, func() {
		s.restart(matchID, gen)
	})
}

// restart re-spawns a crashed room unless it was released while the backoff
// timer was pending.
func (s *Supervisor) restart(matchID string, generation int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[matchID]
	if !ok || r.generation != generation || r.stopping {
		return
	}
	if err := s.spawnLocked(r); err != nil {
		supervisorLogger.WithError(err).WithField("match_id", matchID).Error("room_restart_failed")
	}
}

// AddPlayer charges one player against the room owning the endpoint.
func (s *Supervisor) AddPlayer(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if fmt.Sprintf("127.0.0.1:%d", r.port) == endpoint {
			r.players++
			return
		}
	}
}

// Release stops a room's process and returns its port to the pool. The
// stopping flag is set before the kill so the exit handler does not race the
// shutdown with a crash restart. Releasing an unknown match is a no-op.
func (s *Supervisor) Release(matchID, endpoint string, players int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[matchID]
	if !ok {
		return
	}

	r.stopping = true
	if r.cmd != nil && r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	if r.logFile != nil {
		r.logFile.Close()
	}

	delete(s.rooms, matchID)
	s.availablePorts = append(s.availablePorts, r.port)
	supervisorLogger.WithFields(logrus.Fields{
		"match_id": matchID,
		"port":     r.port,
	}).Info("room_stopped")
}

// Snapshot reports each room as a capacity-1 server.
func (s *Supervisor) Snapshot() []ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ServerStatus, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, ServerStatus{
			Endpoint:      fmt.Sprintf("127.0.0.1:%d", r.port),
			Capacity:      1,
			ActiveMatches: 1,
			ActivePlayers: r.players,
		})
	}
	return out
}

// Shutdown kills every running room. Ports are not returned to the pool;
// this is for process exit only.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for matchID, r := range s.rooms {
		r.stopping = true
		if r.cmd != nil && r.cmd.Process != nil {
			r.cmd.Process.Kill()
		}
		if r.logFile != nil {
			r.logFile.Close()
		}
		supervisorLogger.WithField("match_id", matchID).Info("room_stopped")
	}
	s.rooms = make(map[string]*room)
}

// AvailablePorts returns the number of unleased ports.
func (s *Supervisor) AvailablePorts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.availablePorts)
}
