package build

import "strings"

var (
	Version = "dev"
	AppName = "Skymosaic"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
