package shared

import "fmt"

const keyPrefix = "workbay"

// ShadowScanLockKey is the redis lock serialising shadow scans.
func ShadowScanLockKey() string {
	return fmt.Sprintf("%s:shadow:scan:lock", keyPrefix)
}

// ShadowCursorKey stores the last audit sequence id a shadow scan examined.
func ShadowCursorKey() string {
	return fmt.Sprintf("%s:shadow:cursor", keyPrefix)
}

// SettingsCacheKey builds the cache key for one settings category.
func SettingsCacheKey(category string) string {
	return fmt.Sprintf("%s:settings:%s", keyPrefix, category)
}
