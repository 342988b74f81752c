package enums

import "fmt"

// ChannelType identifies the external selling surface behind a channel.
// ChannelTypeInternal is only used as the source of local values in conflicts.
type ChannelType string

const (
	ChannelTypeShopify     ChannelType = "shopify"
	ChannelTypeWooCommerce ChannelType = "woocommerce"
	ChannelTypeAmazon      ChannelType = "amazon"
	ChannelTypeEbay        ChannelType = "ebay"
	ChannelTypeCustom      ChannelType = "custom"
	ChannelTypeInternal    ChannelType = "internal"
)

var validChannelTypes = []ChannelType{
	ChannelTypeShopify,
	ChannelTypeWooCommerce,
	ChannelTypeAmazon,
	ChannelTypeEbay,
	ChannelTypeCustom,
}

// String implements fmt.Stringer.
func (c ChannelType) String() string {
	return string(c)
}

// IsValid reports whether the value is a connectable ChannelType.
func (c ChannelType) IsValid() bool {
	for _, candidate := range validChannelTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseChannelType converts raw input into a ChannelType.
func ParseChannelType(value string) (ChannelType, error) {
	for _, candidate := range validChannelTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid channel type %q", value)
}
