// internal/bot/commands.go
package bot

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ControlCommand is an operator request routed to the engine.
type ControlCommand interface {
	GetType() string
	GetSource() string
	Validate() error
}

// StartEngineCommand starts the scan and monitor loops.
type StartEngineCommand struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func (c StartEngineCommand) GetType() string {
	return "start_engine"
}

func (c StartEngineCommand) GetSource() string {
	return c.Source
}

func (c StartEngineCommand) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source cannot be empty")
	}
	return nil
}

// StopEngineCommand stops the loops. Open positions stay open.
type StopEngineCommand struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func (c StopEngineCommand) GetType() string {
	return "stop_engine"
}

func (c StopEngineCommand) GetSource() string {
	return c.Source
}

func (c StopEngineCommand) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source cannot be empty")
	}
	return nil
}

// ForceExitCommand closes one position with reason MANUAL.
type ForceExitCommand struct {
	Asset     string    `json:"asset"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func (c ForceExitCommand) GetType() string {
	return "force_exit"
}

func (c ForceExitCommand) GetSource() string {
	return c.Source
}

func (c ForceExitCommand) Validate() error {
	if c.Asset == "" {
		return fmt.Errorf("asset cannot be empty")
	}
	if c.Source == "" {
		return fmt.Errorf("source cannot be empty")
	}
	return nil
}

// CommandHandler executes one command type.
type CommandHandler interface {
	Handle(ctx context.Context, cmd ControlCommand) error
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd ControlCommand) error

func (f CommandHandlerFunc) Handle(ctx context.Context, cmd ControlCommand) error {
	return f(ctx, cmd)
}

// CommandBus dispatches commands to the handler registered for their type.
type CommandBus struct {
	handlers map[reflect.Type]CommandHandler
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewCommandBus creates an empty bus.
func NewCommandBus(logger *zap.Logger) *CommandBus {
	return &CommandBus{
		handlers: make(map[reflect.Type]CommandHandler),
		logger:   logger.Named("command_bus"),
	}
}

// RegisterHandler registers handler for the dynamic type of cmdType.
func (bus *CommandBus) RegisterHandler(cmdType ControlCommand, handler CommandHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.handlers[reflect.TypeOf(cmdType)] = handler

	bus.logger.Debug("Command handler registered", zap.String("command_type", cmdType.GetType()))
}

// Send validates cmd and runs its handler.
func (bus *CommandBus) Send(ctx context.Context, cmd ControlCommand) error {
	if err := cmd.Validate(); err != nil {
		bus.logger.Warn("Command validation failed",
			zap.String("command_type", cmd.GetType()),
			zap.String("source", cmd.GetSource()),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	bus.mu.RLock()
	handler, exists := bus.handlers[reflect.TypeOf(cmd)]
	bus.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no handler registered for command type: %s", cmd.GetType())
	}

	bus.logger.Info("Executing command",
		zap.String("command_type", cmd.GetType()),
		zap.String("source", cmd.GetSource()))

	if err := handler.Handle(ctx, cmd); err != nil {
		bus.logger.Error("Command execution failed",
			zap.String("command_type", cmd.GetType()),
			zap.String("source", cmd.GetSource()),
			zap.Error(err))
		return fmt.Errorf("command %s: %w", cmd.GetType(), err)
	}
	return nil
}

// GetRegisteredHandlers lists the command types with a handler.
func (bus *CommandBus) GetRegisteredHandlers() []string {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	handlers := make([]string, 0, len(bus.handlers))
	for cmdType := range bus.handlers {
		var cmd ControlCommand
		if cmdType.Kind() == reflect.Ptr {
			cmd = reflect.New(cmdType.Elem()).Interface().(ControlCommand)
		} else {
			cmd = reflect.New(cmdType).Elem().Interface().(ControlCommand)
		}
		handlers = append(handlers, cmd.GetType())
	}
	return handlers
}

// RegisterCommands routes the control commands to e.
func (e *Engine) RegisterCommands(bus *CommandBus) {
	bus.RegisterHandler(StartEngineCommand{}, CommandHandlerFunc(func(ctx context.Context, _ ControlCommand) error {
		return e.Start(ctx)
	}))
	bus.RegisterHandler(StopEngineCommand{}, CommandHandlerFunc(func(ctx context.Context, _ ControlCommand) error {
		return e.Stop(ctx)
	}))
	bus.RegisterHandler(ForceExitCommand{}, CommandHandlerFunc(func(ctx context.Context, cmd ControlCommand) error {
		_, err := e.ForceExit(ctx, cmd.(ForceExitCommand).Asset)
		return err
	}))
}
