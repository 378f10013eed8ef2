// Package action defines the tagged union of every state-transition intent
// the RIB accepts, and validates the payloads at ingress with
// github.com/go-playground/validator/v10 struct tags plus two registered
// custom rules (the DNS-compatible name pattern and the protocol set),
// instead of a hand-rolled check repeated at every call site.
package action

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/orbisoperations/catalyst/internal/route"
)

// ErrInvalidAction is the sentinel wrapped into every validation failure,
// so callers can test with errors.Is regardless of which field failed.
var ErrInvalidAction = errors.New("action: invalid action payload")

var nameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]*[a-z0-9])?$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func v() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("dcdname", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			if len(s) < 1 || len(s) > 253 {
				return false
			}
			return nameRe.MatchString(s)
		})
		_ = validate.RegisterValidation("dcdprotocol", func(fl validator.FieldLevel) bool {
			return route.ValidProtocols[route.Protocol(fl.Field().String())]
		})
	})
	return validate
}

// Action is the closed set of state-transition intents the RIB's plan
// accepts. Concrete types below are the only implementations — the
// unexported marker method keeps the union closed to this package.
type Action interface {
	Kind() string
	Validate() error
	isAction()
}

const (
	KindLocalPeerCreate           = "local:peer:create"
	KindLocalPeerUpdate           = "local:peer:update"
	KindLocalPeerDelete           = "local:peer:delete"
	KindLocalRouteCreate          = "local:route:create"
	KindLocalRouteDelete          = "local:route:delete"
	KindInternalProtocolOpen      = "internal:protocol:open"
	KindInternalProtocolConnected = "internal:protocol:connected"
	KindInternalProtocolUpdate    = "internal:protocol:update"
	KindInternalProtocolClose     = "internal:protocol:close"
	KindSystemTick                = "system:tick"
)

// PeerInfoPayload mirrors route.PeerInfo with validation tags; it is
// converted to route.PeerInfo once validated.
type PeerInfoPayload struct {
	Name         string            `validate:"required,hostname_rfc1123|fqdn"`
	Domains      []string          `validate:"omitempty,dive,fqdn"`
	Endpoint     string            `validate:"omitempty,url"`
	Labels       map[string]string `validate:"omitempty"`
	PeerToken    string            `validate:"omitempty"`
	EnvoyAddress string            `validate:"omitempty"`
}

// ToPeerInfo converts a validated payload to the domain type the RIB
// consumes.
func (p PeerInfoPayload) ToPeerInfo() route.PeerInfo {
	return route.PeerInfo{
		Name:         p.Name,
		Domains:      p.Domains,
		Endpoint:     p.Endpoint,
		Labels:       p.Labels,
		PeerToken:    p.PeerToken,
		EnvoyAddress: p.EnvoyAddress,
	}
}

// DataChannelPayload mirrors route.DataChannelDefinition with validation
// tags. EnvoyPort is intentionally absent: callers never supply it.
type DataChannelPayload struct {
	Name     string            `validate:"required,dcdname"`
	Protocol string            `validate:"required,dcdprotocol"`
	Endpoint string            `validate:"omitempty,url"`
	Region   string            `validate:"omitempty"`
	Tags     map[string]string `validate:"omitempty"`
}

// ToDataChannelDefinition converts a validated payload to the domain type
// the RIB consumes.
func (d DataChannelPayload) ToDataChannelDefinition() route.DataChannelDefinition {
	return route.DataChannelDefinition{
		Name:     d.Name,
		Protocol: route.Protocol(d.Protocol),
		Endpoint: d.Endpoint,
		Region:   d.Region,
		Tags:     d.Tags,
	}
}

type LocalPeerCreate struct {
	PeerInfo PeerInfoPayload `validate:"required"`
}

func (LocalPeerCreate) Kind() string { return KindLocalPeerCreate }
func (LocalPeerCreate) isAction()    {}
func (a LocalPeerCreate) Validate() error {
	return wrap(v().Struct(a))
}
func (a LocalPeerCreate) Peer() route.PeerInfo { return a.PeerInfo.ToPeerInfo() }

type LocalPeerUpdate struct {
	PeerInfo PeerInfoPayload `validate:"required"`
}

func (LocalPeerUpdate) Kind() string           { return KindLocalPeerUpdate }
func (LocalPeerUpdate) isAction()              {}
func (a LocalPeerUpdate) Validate() error      { return wrap(v().Struct(a)) }
func (a LocalPeerUpdate) Peer() route.PeerInfo { return a.PeerInfo.ToPeerInfo() }

type LocalPeerDelete struct {
	Name string `validate:"required"`
}

func (LocalPeerDelete) Kind() string      { return KindLocalPeerDelete }
func (LocalPeerDelete) isAction()         {}
func (a LocalPeerDelete) Validate() error { return wrap(v().Struct(a)) }

type LocalRouteCreate struct {
	Route DataChannelPayload `validate:"required"`
}

func (LocalRouteCreate) Kind() string      { return KindLocalRouteCreate }
func (LocalRouteCreate) isAction()         {}
func (a LocalRouteCreate) Validate() error { return wrap(v().Struct(a)) }
func (a LocalRouteCreate) DataChannel() route.DataChannelDefinition {
	return a.Route.ToDataChannelDefinition()
}

type LocalRouteDelete struct {
	Name     string `validate:"required,dcdname"`
	Protocol string `validate:"required,dcdprotocol"`
}

func (LocalRouteDelete) Kind() string      { return KindLocalRouteDelete }
func (LocalRouteDelete) isAction()         {}
func (a LocalRouteDelete) Validate() error { return wrap(v().Struct(a)) }
func (a LocalRouteDelete) Key() route.Key {
	return route.Key{Name: a.Name, Protocol: route.Protocol(a.Protocol)}
}

type InternalProtocolOpen struct {
	PeerInfo PeerInfoPayload `validate:"required"`
}

func (InternalProtocolOpen) Kind() string           { return KindInternalProtocolOpen }
func (InternalProtocolOpen) isAction()              {}
func (a InternalProtocolOpen) Validate() error      { return wrap(v().Struct(a)) }
func (a InternalProtocolOpen) Peer() route.PeerInfo { return a.PeerInfo.ToPeerInfo() }

type InternalProtocolConnected struct {
	Name string `validate:"required"`
}

func (InternalProtocolConnected) Kind() string      { return KindInternalProtocolConnected }
func (InternalProtocolConnected) isAction()         {}
func (a InternalProtocolConnected) Validate() error { return wrap(v().Struct(a)) }

// RouteUpdateItem is one entry of an InternalProtocolUpdate's updates list.
type RouteUpdateItem struct {
	Action   string             `validate:"required,oneof=add remove"`
	Route    DataChannelPayload `validate:"required"`
	NodePath []string           `validate:"omitempty,dive,required"`
}

type InternalProtocolUpdate struct {
	PeerInfo PeerInfoPayload   `validate:"required"`
	Updates  []RouteUpdateItem `validate:"required,min=1,dive"`
}

func (InternalProtocolUpdate) Kind() string           { return KindInternalProtocolUpdate }
func (InternalProtocolUpdate) isAction()              {}
func (a InternalProtocolUpdate) Validate() error      { return wrap(v().Struct(a)) }
func (a InternalProtocolUpdate) Peer() route.PeerInfo { return a.PeerInfo.ToPeerInfo() }

type InternalProtocolClose struct {
	PeerInfo PeerInfoPayload `validate:"required"`
	Code     int             `validate:"required"`
	Reason   string          `validate:"omitempty"`
}

func (InternalProtocolClose) Kind() string           { return KindInternalProtocolClose }
func (InternalProtocolClose) isAction()              {}
func (a InternalProtocolClose) Validate() error      { return wrap(v().Struct(a)) }
func (a InternalProtocolClose) Peer() route.PeerInfo { return a.PeerInfo.ToPeerInfo() }

type SystemTick struct {
	Now int64 `validate:"gte=0"`
}

func (SystemTick) Kind() string      { return KindSystemTick }
func (SystemTick) isAction()         {}
func (a SystemTick) Validate() error { return wrap(v().Struct(a)) }

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		return fmt.Errorf("%w: %s", ErrInvalidAction, formatValidationErrors(verrs))
	}
	return fmt.Errorf("%w: %s", ErrInvalidAction, err)
}

func formatValidationErrors(errs validator.ValidationErrors) string {
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("field '%s' failed on '%s'", e.Namespace(), e.Tag())
	}
	return msg
}
