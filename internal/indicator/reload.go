package indicator

import (
	"log"
)

// ReloadConfigs updates the indicator engine with new configurations.
// It preserves state for indicators that already exist (matched by
// Config.Key()) and only creates new instances for genuinely new
// indicators, so adding an indicator does not discard warm-up history.
// Returns the number of preserved instrument states and the number of TFs
// that gained cold indicators (and so need a backfill).
func (e *Engine) ReloadConfigs(newConfigs []TFConfig) (preserved, created int, err error) {
	newConfigs = normalizeTFConfigs(newConfigs)
	if err := ValidateConfigs(newConfigs); err != nil {
		return 0, 0, err
	}

	oldCfgByTF := make(map[int]TFConfig, len(e.configs))
	oldStateByTF := make(map[int]map[string]*symbolIndicators, len(e.configs))
	for i, cfg := range e.configs {
		oldCfgByTF[cfg.TF] = cfg
		oldStateByTF[cfg.TF] = e.state[i]
	}

	newState := make([]map[string]*symbolIndicators, len(newConfigs))
	for i, newCfg := range newConfigs {
		oldCfg, tfExists := oldCfgByTF[newCfg.TF]
		oldTFState := oldStateByTF[newCfg.TF]

		if !tfExists || oldTFState == nil {
			newState[i] = make(map[string]*symbolIndicators, 64)
			created++
			log.Printf("[reload] TF=%d: new timeframe, cold-starting", newCfg.TF)
			continue
		}

		if indicatorSetsEqual(oldCfg.Indicators, newCfg.Indicators) {
			newState[i] = oldTFState
			preserved += len(oldTFState)
			log.Printf("[reload] TF=%d: unchanged, preserved %d symbol states", newCfg.TF, len(oldTFState))
			continue
		}

		migrated := make(map[string]*symbolIndicators, len(oldTFState))
		for key, old := range oldTFState {
			migrated[key] = migrateSymbolIndicators(old, newCfg.Indicators)
			preserved++
		}
		newState[i] = migrated
		created++
		log.Printf("[reload] TF=%d: migrated %d symbol states", newCfg.TF, len(migrated))
	}

	e.setConfigs(newConfigs, newState)

	log.Printf("[reload] config reloaded: %d TFs, %d preserved, %d new",
		len(newConfigs), preserved, created)
	return preserved, created, nil
}

// migrateSymbolIndicators builds indicators for newConfigs, reusing instances
// from old whose Key() still appears.
func migrateSymbolIndicators(old *symbolIndicators, newConfigs []Config) *symbolIndicators {
	oldByKey := make(map[string]Indicator, len(old.indicators))
	for i, cfg := range old.configs {
		oldByKey[cfg.Key()] = old.indicators[i]
	}

	inds := make([]Indicator, len(newConfigs))
	for i, cfg := range newConfigs {
		if existing, ok := oldByKey[cfg.Key()]; ok {
			inds[i] = existing
			continue
		}
		inds[i] = mustNew(cfg)
	}
	return &symbolIndicators{indicators: inds, configs: newConfigs, lastTS: old.lastTS}
}

// indicatorSetsEqual reports whether a and b contain the same indicators (order-independent).
func indicatorSetsEqual(a, b []Config) bool {
	if len(a) != len(b) {
		return false
	}
	setA := make(map[string]bool, len(a))
	for _, ic := range a {
		setA[ic.Key()] = true
	}
	for _, ic := range b {
		if !setA[ic.Key()] {
			return false
		}
	}
	return true
}
