package master

import (
	"fmt"
	"net"
	"strconv"

	"github.com/core-tools/hsu-mcp-master/pkg/config"
	"github.com/core-tools/hsu-mcp-master/pkg/errors"
)

const maxServiceIDLength = 64

// ValidateServiceID validates service ID format and constraints
func ValidateServiceID(id string) error {
	if id == "" {
		return errors.NewValidationError("service ID cannot be empty", nil)
	}

	if len(id) > maxServiceIDLength {
		return errors.NewValidationError(fmt.Sprintf("service ID cannot exceed %d characters", maxServiceIDLength), nil)
	}

	for _, char := range id {
		if !isValidIDChar(char) {
			return errors.NewValidationError("service ID contains invalid characters: only letters, numbers, hyphens, and underscores are allowed", nil).
				WithContext("id", id)
		}
	}

	return nil
}

// ValidateEnvironment accepts the empty string (the configured default) or a known environment
func ValidateEnvironment(environment string) error {
	if environment == "" {
		return nil
	}
	for _, known := range config.EnvironmentNames() {
		if environment == known {
			return nil
		}
	}
	return errors.NewValidationError(fmt.Sprintf("unknown environment '%s'", environment), nil).
		WithContext("available", config.EnvironmentNames())
}

// ValidatePort validates port number
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535", nil)
	}
	return nil
}

// ValidateNetworkAddress validates a host:port address
func ValidateNetworkAddress(address string) error {
	if address == "" {
		return errors.NewValidationError("network address cannot be empty", nil)
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return errors.NewValidationError("invalid network address format: "+address, err)
	}

	if host == "" {
		return errors.NewValidationError("host cannot be empty in address: "+address, nil)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return errors.NewValidationError("invalid port in address: "+address, err)
	}

	if err := ValidatePort(port); err != nil {
		return errors.NewValidationError("invalid port in address: "+address, err)
	}

	return nil
}

func isValidIDChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_'
}
