package topology

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/watchtower-noc/watchtower/internal/model"
)

// fileTopology is the on-disk layout of topology.yaml.
type fileTopology struct {
	Clusters      []fileCluster         `yaml:"clusters"`
	Devices       map[string]fileDevice `yaml:"devices"`
	Connections   []fileConnection      `yaml:"connections"`
	ExternalLinks []fileExternalLink    `yaml:"external_links"`
}

type fileCluster struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Icon     string         `yaml:"icon"`
	Position model.Position `yaml:"position"`
	Devices  []string       `yaml:"devices"`
}

type fileDevice struct {
	DisplayName      string   `yaml:"display_name"`
	Type             string   `yaml:"type"`
	Model            string   `yaml:"model"`
	IP               string   `yaml:"ip"`
	Location         string   `yaml:"location"`
	LibreNMSHostname string   `yaml:"librenms_hostname"`
	ProxmoxNode      string   `yaml:"proxmox_node"`
	Aliases          []string `yaml:"aliases"`
}

type fileEndpoint struct {
	Device string `yaml:"device"`
	Port   string `yaml:"port"`
}

type fileConnection struct {
	ID     string       `yaml:"id"`
	Source fileEndpoint `yaml:"source"`
	Target fileEndpoint `yaml:"target"`
	Type   string       `yaml:"type"`
	Speed  int64        `yaml:"speed"`
}

type fileExternalLink struct {
	ID     string       `yaml:"id"`
	Source fileEndpoint `yaml:"source"`
	Target struct {
		Label string `yaml:"label"`
		Type  string `yaml:"type"`
		Icon  string `yaml:"icon"`
	} `yaml:"target"`
	Provider string `yaml:"provider"`
	Speed    int64  `yaml:"speed"`
}

// clusterDeviceType maps a cluster type to the default type of its members.
var clusterDeviceType = map[string]model.DeviceType{
	"firewall": model.TypeFirewall,
	"network":  model.TypeNetwork,
	"switch":   model.TypeSwitch,
	"router":   model.TypeRouter,
	"server":   model.TypeServer,
	"wireless": model.TypeWireless,
}

// Parse decodes topology.yaml content into a Skeleton.
func Parse(data []byte) (model.Skeleton, error) {
	var ft fileTopology
	if err := yaml.Unmarshal(data, &ft); err != nil {
		return model.Skeleton{}, fmt.Errorf("failed to parse topology: %w", err)
	}

	memberOf := make(map[string]fileCluster)
	sk := model.Skeleton{}
	for _, c := range ft.Clusters {
		sk.Clusters = append(sk.Clusters, model.Cluster{
			ID:          c.ID,
			Name:        c.Name,
			ClusterType: c.Type,
			Icon:        c.Icon,
			Position:    c.Position,
			DeviceIDs:   append([]string(nil), c.Devices...),
		})
		for _, id := range c.Devices {
			memberOf[id] = c
		}
	}

	ids := make([]string, 0, len(ft.Devices))
	for id := range ft.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		d := ft.Devices[id]
		cluster := memberOf[id]
		typ := model.DeviceType(d.Type)
		if typ == "" {
			typ = clusterDeviceType[cluster.Type]
		}
		if typ == "" {
			typ = model.TypeUnknown
		}
		aliases := append([]string(nil), d.Aliases...)
		if d.LibreNMSHostname != "" {
			aliases = append(aliases, d.LibreNMSHostname)
		}
		if d.ProxmoxNode != "" {
			aliases = append(aliases, d.ProxmoxNode)
		}
		name := d.DisplayName
		if name == "" {
			name = id
		}
		sk.Devices = append(sk.Devices, model.SkeletonDevice{
			ID:          id,
			DisplayName: name,
			Type:        typ,
			IP:          d.IP,
			Model:       d.Model,
			Location:    d.Location,
			ClusterID:   cluster.ID,
			Aliases:     aliases,
		})
	}

	for i, c := range ft.Connections {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("conn-%d", i)
		}
		sk.Connections = append(sk.Connections, model.Connection{
			ID:             id,
			Source:         model.ConnectionEndpoint{Device: c.Source.Device, Port: c.Source.Port},
			Target:         model.ConnectionEndpoint{Device: c.Target.Device, Port: c.Target.Port},
			ConnectionType: c.Type,
			Speed:          c.Speed,
			Status:         model.StatusUnknown,
		})
	}

	for i, l := range ft.ExternalLinks {
		id := l.ID
		if id == "" {
			id = fmt.Sprintf("ext-%d", i)
		}
		sk.ExternalLinks = append(sk.ExternalLinks, model.ExternalLink{
			ID:     id,
			Source: model.ConnectionEndpoint{Device: l.Source.Device, Port: l.Source.Port},
			Target: model.ExternalTarget{
				Label: l.Target.Label,
				Type:  l.Target.Type,
				Icon:  l.Target.Icon,
			},
			Provider: l.Provider,
			Speed:    l.Speed,
			Status:   model.StatusUnknown,
		})
	}

	return sk, nil
}

// File provides the skeleton from a YAML file, re-reading it only when the
// file's modification time changes.
type File struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	modTime time.Time
	cached  *model.Skeleton
}

// NewFile creates a skeleton provider backed by the file at path.
func NewFile(path string, logger *zap.Logger) *File {
	return &File{
		path:   path,
		logger: logger.Named("topology"),
	}
}

// Skeleton implements model.SkeletonProvider. When a changed file fails to
// parse, the previously loaded skeleton keeps being served.
func (f *File) Skeleton(ctx context.Context) (model.Skeleton, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if err != nil {
		if f.cached != nil {
			f.logger.Warn("topology file unavailable, serving last loaded copy", zap.Error(err))
			return *f.cached, nil
		}
		return model.Skeleton{}, fmt.Errorf("failed to stat topology file: %w", err)
	}
	if f.cached != nil && info.ModTime().Equal(f.modTime) {
		return *f.cached, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return model.Skeleton{}, fmt.Errorf("failed to read topology file: %w", err)
	}
	sk, err := Parse(data)
	if err != nil {
		if f.cached != nil {
			f.logger.Error("invalid topology file, serving last loaded copy", zap.Error(err))
			return *f.cached, nil
		}
		return model.Skeleton{}, err
	}

	f.cached = &sk
	f.modTime = info.ModTime()
	f.logger.Info("loaded topology",
		zap.String("path", f.path),
		zap.Int("clusters", len(sk.Clusters)),
		zap.Int("devices", len(sk.Devices)),
		zap.Int("connections", len(sk.Connections)),
	)
	return sk, nil
}

// Static serves a fixed skeleton.
type Static model.Skeleton

func (s Static) Skeleton(context.Context) (model.Skeleton, error) {
	return model.Skeleton(s), nil
}
