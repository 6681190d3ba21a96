//go:build windows

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
	"golang.org/x/sys/windows/svc/mgr"
)

const serviceName = "BoostProxy"
const serviceDisplayName = "BoostProxy Claude API Proxy"
const serviceDescription = "Claude Messages API proxy for OpenAI-compatible backends"

// proxyService implements svc.Handler
type proxyService struct {
	configPath string
}

func (s *proxyService) Execute(_ []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, s.configPath) }()

	changes <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}

	for {
		select {
		case err := <-done:
			if err != nil {
				reportEvent(func(l *eventlog.Log) error { return l.Error(1, fmt.Sprintf("service error: %v", err)) })
				return false, 1
			}
			return false, 0
		case c := <-r:
			switch c.Cmd {
			case svc.Stop, svc.Shutdown:
				changes <- svc.Status{State: svc.StopPending}
				cancel()
				<-done
				return false, 0
			case svc.Interrogate:
				changes <- c.CurrentStatus
			}
		}
	}
}

func reportEvent(fn func(*eventlog.Log) error) {
	elog, err := eventlog.Open(serviceName)
	if err != nil {
		return
	}
	defer elog.Close()
	_ = fn(elog)
}

// runService starts the Windows service
func runService(configPath string) error {
	reportEvent(func(l *eventlog.Log) error { return l.Info(1, "starting "+serviceName) })
	if err := svc.Run(serviceName, &proxyService{configPath: configPath}); err != nil {
		reportEvent(func(l *eventlog.Log) error { return l.Error(1, fmt.Sprintf("service failed: %v", err)) })
		return err
	}
	reportEvent(func(l *eventlog.Log) error { return l.Info(1, serviceName+" stopped") })
	return nil
}

func installService(configPath string) error {
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	exePath = filepath.Clean(exePath)

	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer m.Disconnect()

	if s, errOpen := m.OpenService(serviceName); errOpen == nil {
		s.Close()
		return fmt.Errorf("service %s already exists", serviceName)
	}

	args := []string{"-service"}
	if configPath != "" {
		abs, errAbs := filepath.Abs(configPath)
		if errAbs == nil {
			configPath = abs
		}
		args = append(args, "-config", configPath)
	}

	s, err := m.CreateService(serviceName, exePath, mgr.Config{
		DisplayName:  serviceDisplayName,
		Description:  serviceDescription,
		StartType:    mgr.StartAutomatic,
		ErrorControl: mgr.ErrorNormal,
	}, args...)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer s.Close()

	// Restart on failure; the failure count resets after a day.
	_ = s.SetRecoveryActions([]mgr.RecoveryAction{
		{Type: mgr.ServiceRestart, Delay: 5 * time.Second},
		{Type: mgr.ServiceRestart, Delay: 30 * time.Second},
	}, 86400)
	_ = eventlog.InstallAsEventCreate(serviceName, eventlog.Error|eventlog.Warning|eventlog.Info)

	fmt.Printf("Service %s installed successfully\n", serviceName)
	return nil
}

func uninstallService() error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(serviceName)
	if err != nil {
		return fmt.Errorf("service %s not found: %w", serviceName, err)
	}
	defer s.Close()

	if status, errQuery := s.Query(); errQuery == nil && status.State != svc.Stopped {
		_, _ = s.Control(svc.Stop)
		for i := 0; i < 10; i++ {
			time.Sleep(500 * time.Millisecond)
			if status, errQuery = s.Query(); errQuery != nil || status.State == svc.Stopped {
				break
			}
		}
	}
	if err = s.Delete(); err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	_ = eventlog.Remove(serviceName)

	fmt.Printf("Service %s uninstalled successfully\n", serviceName)
	return nil
}

func controlService(start bool) error {
	m, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer m.Disconnect()

	s, err := m.OpenService(serviceName)
	if err != nil {
		return fmt.Errorf("service %s not found: %w", serviceName, err)
	}
	defer s.Close()

	if start {
		return s.Start()
	}
	_, err = s.Control(svc.Stop)
	return err
}

// handleServiceCommand handles the install, uninstall, start and stop
// subcommands.
func handleServiceCommand(args []string) bool {
	if len(args) == 0 {
		return false
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "install":
		configPath := ""
		if len(args) > 1 {
			configPath = args[1]
		}
		err = installService(configPath)
	case "uninstall", "remove":
		err = uninstallService()
	case "start":
		err = controlService(true)
	case "stop":
		err = controlService(false)
	default:
		return false
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return true
}
