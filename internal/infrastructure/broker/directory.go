package broker

import (
	"fmt"
	"net/http"

	"github.com/stockauth/stockauth/internal/core/domain"
	"github.com/stockauth/stockauth/internal/core/ports"
)

const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
)

// Directory maps broker names to gateways.
type Directory struct {
	gateways map[domain.BrokerName]ports.BrokerGateway
}

var _ ports.BrokerDirectory = (*Directory)(nil)

// NewDirectory registers a gateway for every supported broker according to mode.
func NewDirectory(mode string, angel AngelConfig, client *http.Client) (*Directory, error) {
	d := &Directory{gateways: make(map[domain.BrokerName]ports.BrokerGateway)}
	switch mode {
	case ModeLive:
		d.Register(domain.BrokerAngel, NewAngelGateway(angel, client))
	case ModeSimulated, "":
		d.Register(domain.BrokerAngel, NewSimulatedGateway(domain.BrokerAngel))
	default:
		return nil, fmt.Errorf("broker: unknown mode %q", mode)
	}
	return d, nil
}

// Register replaces the gateway for name.
func (d *Directory) Register(name domain.BrokerName, gw ports.BrokerGateway) {
	d.gateways[name] = gw
}

func (d *Directory) Gateway(name domain.BrokerName) (ports.BrokerGateway, error) {
	gw, ok := d.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported broker %q", domain.ErrForbidden, name)
	}
	return gw, nil
}

// Wrap replaces every registered gateway with wrap(name, gateway).
func (d *Directory) Wrap(wrap func(domain.BrokerName, ports.BrokerGateway) ports.BrokerGateway) {
	for name, gw := range d.gateways {
		d.gateways[name] = wrap(name, gw)
	}
}
