package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/luart"
	"github.com/dokzlo13/roomd/internal/platform"
)

// LuaService wraps the scene override runtime.
type LuaService struct {
	script  string
	Runtime *luart.Runtime
}

// NewLuaService creates the runtime and loads script. It returns nil when no script
// is configured.
func NewLuaService(script string, port platform.Port) (*LuaService, error) {
	if script == "" {
		return nil, nil
	}
	runtime := luart.NewRuntime(port)
	if err := runtime.LoadFile(script); err != nil {
		runtime.Close()
		return nil, err
	}
	log.Info().Str("script", script).Strs("rooms", runtime.OverrideRooms()).Msg("Scene override script loaded")
	return &LuaService{script: script, Runtime: runtime}, nil
}

// Start begins the Lua worker goroutine, the only goroutine touching the Lua state.
func (s *LuaService) Start(ctx context.Context) {
	go s.Runtime.Run(ctx)
}

func (s *LuaService) Close() {
	s.Runtime.Close()
}
