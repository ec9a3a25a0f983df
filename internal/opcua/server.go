// Package opcua exposes live OEE values and device state as an OPC UA
// address space, one folder per device.
package opcua

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/awcullen/opcua/server"
	"github.com/awcullen/opcua/ua"
	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/metrics"
	"github.com/sebastiankruger/shopfloor-oee/internal/monitor"
)

const (
	namespaceIndex uint16 = 2
	applicationURN        = "shopfloor-oee:engine"
)

type Config struct {
	Port   int
	Name   string
	PKIDir string
}

type deviceFolder struct {
	vars   map[string]*server.VariableNode
	values map[string]any
}

// Server keeps the latest value of every node. Values are held even while
// the OPC UA endpoint is not running so they can be served once it starts.
type Server struct {
	cfg Config
	srv *server.Server

	mu      sync.RWMutex
	devices map[string]*deviceFolder
}

func NewServer(cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "OEE Engine"
	}
	if cfg.PKIDir == "" {
		cfg.PKIDir = "./pki"
	}
	return &Server{
		cfg:     cfg,
		devices: make(map[string]*deviceFolder),
	}
}

// AddDevice creates the folder of a device. Adding a device twice is a no-op.
func (s *Server) AddDevice(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDevice(id)
}

// Start opens the endpoint. A failure to create the server leaves the
// engine running without OPC UA.
func (s *Server) Start(ctx context.Context) error {
	endpoint := fmt.Sprintf("opc.tcp://0.0.0.0:%d", s.cfg.Port)

	log.Info().
		Int("port", s.cfg.Port).
		Str("endpoint", endpoint).
		Msg("Starting OPC UA server")

	certPath, keyPath, err := ensurePKI(s.cfg.PKIDir, s.cfg.Name)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create PKI, OPC UA server disabled")
		return nil
	}

	var srv *server.Server
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Warn().Interface("panic", r).Msg("OPC UA server creation panicked")
				srv = nil
			}
		}()

		srv, err = server.New(
			ua.ApplicationDescription{
				ApplicationURI:  "urn:" + applicationURN,
				ProductURI:      "urn:shopfloor-oee",
				ApplicationName: ua.LocalizedText{Text: s.cfg.Name, Locale: "en"},
				ApplicationType: ua.ApplicationTypeServer,
			},
			certPath,
			keyPath,
			endpoint,
			server.WithAnonymousIdentity(true),
			server.WithSecurityPolicyNone(true),
			server.WithInsecureSkipVerify(),
		)
		if err != nil {
			log.Warn().Err(err).Msg("OPC UA server creation failed")
			srv = nil
		}
	}()

	if srv == nil {
		log.Info().Msg("OPC UA server disabled, values are kept in memory only")
		return nil
	}

	s.mu.Lock()
	s.srv = srv
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.registerDevice(id, s.devices[id])
	}
	s.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("OPC UA server panic")
			}
		}()
		if err := srv.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("OPC UA server error")
		}
	}()

	log.Info().Int("devices", len(ids)).Msg("OPC UA server started")
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.srv
	s.mu.RUnlock()

	if srv != nil {
		return srv.Close()
	}
	return nil
}

// PublishResult implements metrics.Sink.
func (s *Server) PublishResult(r metrics.Result) {
	s.set(r.Device, map[string]any{
		NodeAvailability:       r.Breakdown.Availability,
		NodePerformance:        r.Breakdown.Performance,
		NodeQuality:            r.Breakdown.Quality,
		NodeOEE:                r.Breakdown.OEE,
		NodeConstrainingFactor: string(r.ConstrainingFactor),
		NodeCalculatedAt:       r.CalculatedAt.UTC(),
	})
}

// DeviceChecked implements monitor.StateObserver.
func (s *Server) DeviceChecked(st monitor.DeviceState) {
	start := time.Time{}
	if st.StoppageStart != nil {
		start = st.StoppageStart.UTC()
	}
	s.set(st.Device, map[string]any{
		NodeStopped:       st.Stopped,
		NodeStoppageStart: start,
		NodeWorkOrder:     st.WorkOrderID,
		NodeGoodCount:     st.GoodCount,
		NodeScrapCount:    st.ScrapCount,
	})
}

// Value returns the current value of a device node.
func (s *Server) Value(device, name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[device]
	if !ok {
		return nil, false
	}
	v, ok := d.values[name]
	return v, ok
}

func (s *Server) set(device string, values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.ensureDevice(device)
	now := time.Now().UTC()
	for name, value := range values {
		d.values[name] = value
		if node, ok := d.vars[name]; ok {
			node.SetValue(ua.NewDataValue(value, 0, now, 0, now, 0))
		}
	}
}

// ensureDevice must be called with mu held.
func (s *Server) ensureDevice(id string) *deviceFolder {
	if d, ok := s.devices[id]; ok {
		return d
	}

	d := &deviceFolder{
		vars:   make(map[string]*server.VariableNode),
		values: make(map[string]any, len(deviceNodes)),
	}
	for _, def := range deviceNodes {
		d.values[def.Name] = def.InitialValue
	}
	s.devices[id] = d

	if s.srv != nil {
		s.registerDevice(id, d)
	}
	return d
}

// registerDevice must be called with mu held.
func (s *Server) registerDevice(id string, d *deviceFolder) {
	nm := s.srv.NamespaceManager()
	folderID := ua.NodeIDString{NamespaceIndex: namespaceIndex, ID: id}

	folder := server.NewObjectNode(
		s.srv,
		folderID,
		ua.QualifiedName{NamespaceIndex: namespaceIndex, Name: id},
		ua.LocalizedText{Text: id},
		ua.LocalizedText{Text: "OEE and state of " + id},
		nil,
		[]ua.Reference{
			{
				ReferenceTypeID: ua.ReferenceTypeIDOrganizes,
				IsInverse:       true,
				TargetID:        ua.ExpandedNodeID{NodeID: ua.ObjectIDObjectsFolder},
			},
		},
		0,
	)
	nm.AddNode(folder)

	now := time.Now().UTC()
	for _, def := range deviceNodes {
		node := server.NewVariableNode(
			s.srv,
			ua.NodeIDString{NamespaceIndex: namespaceIndex, ID: id + "." + def.Name},
			ua.QualifiedName{NamespaceIndex: namespaceIndex, Name: def.Name},
			ua.LocalizedText{Text: def.DisplayName},
			ua.LocalizedText{Text: def.Description},
			nil,
			[]ua.Reference{
				{
					ReferenceTypeID: ua.ReferenceTypeIDHasComponent,
					IsInverse:       true,
					TargetID:        ua.ExpandedNodeID{NodeID: folderID},
				},
			},
			ua.NewDataValue(d.values[def.Name], 0, now, 0, now, 0),
			def.DataType,
			ua.ValueRankScalar,
			[]uint32{},
			ua.AccessLevelsCurrentRead,
			250.0,
			false,
			nil,
		)
		nm.AddNode(node)
		d.vars[def.Name] = node
	}

	log.Debug().Str("device", id).Int("nodes", len(deviceNodes)).Msg("Registered OPC UA device folder")
}
