package resource

import "github.com/sebastiankruger/shopfloor-oee/internal/config"

// FromConfig builds the hierarchy declared by lines and devices.
func FromConfig(lines []config.LineConfig, devices []config.DeviceConfig) (*Graph, error) {
	g := NewGraph()
	for _, l := range lines {
		if err := g.Add(Node{ID: l.ID, Parent: l.Parent, Kind: KindLine}); err != nil {
			return nil, err
		}
	}
	for _, d := range devices {
		if err := g.Add(Node{ID: d.ID, Parent: d.Line, Kind: KindDevice}); err != nil {
			return nil, err
		}
	}
	return g, nil
}
