package application

import (
	"context"
	"fmt"
)

// Open loads the engine config named by cfg, opens the configured store
// and builds an engine over it. The caller owns the returned store and
// must close it.
func Open(ctx context.Context, cfg *ServiceConfig, opts ...EngineOption) (*Engine, *Store, error) {
	engineCfg, err := NewConfigLoader().LoadFromFile(cfg.EngineConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("engine config %s: %w", cfg.EngineConfigPath, err)
	}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	base := []EngineOption{WithStoreName(st.Name)}
	if st.Participation != nil {
		base = append(base, WithParticipation(st.Participation))
	}
	e, err := NewEngine(st.Fetcher, engineCfg, append(base, opts...)...)
	if err != nil {
		_ = st.Close(ctx)
		return nil, nil, err
	}
	return e, st, nil
}
