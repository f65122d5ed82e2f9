package model

// Platform 支持的第三方平台
type Platform string

const (
	PlatformEbay  Platform = "ebay"
	PlatformEtsy  Platform = "etsy"
	PlatformDepop Platform = "depop"
)

// Platforms 固定的平台集合，顺序即默认同步顺序
var Platforms = []Platform{PlatformEbay, PlatformEtsy, PlatformDepop}

// IsValid 是否为已支持的平台
func (p Platform) IsValid() bool {
	for _, v := range Platforms {
		if v == p {
			return true
		}
	}
	return false
}

func (p Platform) String() string {
	return string(p)
}
