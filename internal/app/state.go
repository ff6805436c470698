package app

import (
	"caschost-go/internal/config"
	"caschost-go/internal/host"
)

// stateFile persists host.RebuildState in the TOML state file.
type stateFile struct {
	path string
}

func (s stateFile) LoadState() (host.RebuildState, error) {
	st, err := config.ReadState(s.path)
	if err != nil {
		return host.RebuildState{}, err
	}
	return host.RebuildState{
		VersionTag: st.Version,
		Fingerprints: host.Fingerprints{
			Source: st.SourceFingerprint,
			Output: st.OutputFingerprint,
		},
	}, nil
}

func (s stateFile) SaveState(st host.RebuildState) error {
	return config.WriteState(s.path, config.State{
		Version:           st.VersionTag,
		SourceFingerprint: st.Fingerprints.Source,
		OutputFingerprint: st.Fingerprints.Output,
	})
}

var _ host.StateStore = stateFile{}
