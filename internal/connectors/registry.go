package connectors

import (
	"sort"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// Factory builds a connector from decrypted credentials.
type Factory func(creds Credentials, opts ClientOptions) (Connector, error)

// Definition describes a connectable channel type.
type Definition struct {
	Type        enums.ChannelType
	DisplayName string
	// SignatureHeader carries the webhook HMAC.
	SignatureHeader string
	// StoreHeader identifies the sending shop; matched against Channel.ExternalRef.
	StoreHeader string
	// EventIDHeader carries the delivery id when the channel sends one.
	EventIDHeader string
	SupportsRead  bool
	Factory       Factory

	encoding signatureEncoding
}

// Sign computes the signature a channel of this type would send for payload.
func (d Definition) Sign(payload []byte, secret string) string {
	return sign(payload, secret, d.encoding)
}

func restFactory(d dialect) Factory {
	return func(creds Credentials, opts ClientOptions) (Connector, error) {
		return newRESTConnector(d, creds, opts)
	}
}

func definitionFor(d dialect, name, sigHeader, storeHeader, eventHeader string) Definition {
	return Definition{
		Type:            d.channelType,
		DisplayName:     name,
		SignatureHeader: sigHeader,
		StoreHeader:     storeHeader,
		EventIDHeader:   eventHeader,
		SupportsRead:    d.fetch != nil,
		Factory:         restFactory(d),
		encoding:        d.encoding,
	}
}

// Registry resolves channel types to definitions and builds connectors with
// shared client options.
type Registry struct {
	defs map[enums.ChannelType]Definition
	opts ClientOptions
}

// NewRegistry returns a registry holding every built-in channel type.
func NewRegistry(opts ClientOptions) *Registry {
	r := &Registry{defs: map[enums.ChannelType]Definition{}, opts: opts}
	for _, def := range []Definition{
		definitionFor(shopifyDialect, "Shopify", "X-Shopify-Hmac-Sha256", "X-Shopify-Shop-Domain", "X-Shopify-Webhook-Id"),
		definitionFor(wooCommerceDialect, "WooCommerce", "X-WC-Webhook-Signature", "X-WC-Webhook-Source", "X-WC-Webhook-Delivery-ID"),
		definitionFor(amazonDialect, "Amazon", "X-Amz-Signature", "X-Amz-Seller-Id", ""),
		definitionFor(ebayDialect, "eBay", "X-Ebay-Signature", "X-Ebay-Seller", ""),
		definitionFor(customDialect, "Custom", "X-Channel-Signature", "X-Channel-Store", "X-Channel-Event-Id"),
	} {
		r.Register(def)
	}
	return r
}

// ClientOptionsFromConfig maps the sync section onto client options.
func ClientOptionsFromConfig(cfg config.SyncConfig) ClientOptions {
	return ClientOptions{RatePerMin: cfg.RateLimitPerMin, Timeout: cfg.ConnectorTimeout}
}

// Register adds or replaces a definition.
func (r *Registry) Register(def Definition) {
	r.defs[def.Type] = def
}

func (r *Registry) Lookup(channelType enums.ChannelType) (Definition, error) {
	def, ok := r.defs[channelType]
	if !ok {
		return Definition{}, pkgerrors.New(pkgerrors.CodeValidation, "unsupported channel type").
			WithDetails(map[string]any{"type": channelType})
	}
	return def, nil
}

// Build resolves channelType and constructs a connector.
func (r *Registry) Build(channelType enums.ChannelType, creds Credentials) (Connector, error) {
	def, err := r.Lookup(channelType)
	if err != nil {
		return nil, err
	}
	return def.Factory(creds, r.opts)
}

// Definitions lists registered types ordered by type name.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
