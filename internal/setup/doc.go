// Package setup holds the kit's configuration: which distros exist, where
// they are installed, which profiles they are provisioned with and where the
// provisioning repository lives.
//
// The compiled-in defaults describe the three personal distros; a YAML file
// may override any of them. This package is the only one allowed to use a
// package-level logger.
package setup
