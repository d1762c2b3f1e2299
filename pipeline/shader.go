package pipeline

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// InvalidShaderSizeError is the error returned when SPIR-V byte code is not a
// whole number of 32-bit words. The native API would reject it anyway; the
// check here surfaces the problem before any handle is created
var InvalidShaderSizeError error = errors.New("shader byte code length is not a multiple of 4")

// ShaderModule is a registry-tracked compiled shader. The SPIR-V is produced
// by an external compiler; this package treats it as opaque bytes.
type ShaderModule struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	shaderModule core1_0.ShaderModule
}

// CreateShaderModule repacks SPIR-V bytes into the 32-bit words the native
// API expects and creates the module as a child of the device. The module can
// be destroyed as soon as every pipeline using it exists.
func CreateShaderModule(logger *slog.Logger, logicalDevice *device.LogicalDevice, name string, code []byte) (*ShaderModule, error) {
	logger.Debug("ShaderModule::Create")

	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Wrapf(InvalidShaderSizeError, "shader %s is %d bytes", name, len(code))
	}

	shaderModule, _, err := logicalDevice.Handle().CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: spirvWords(code),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create shader module %s", name)
	}

	id, err := logicalDevice.Registry().Register(registry.KindShaderModule, name, func() {
		shaderModule.Destroy(nil)
	}, logicalDevice.ID())
	if err != nil {
		shaderModule.Destroy(nil)
		return nil, err
	}

	return &ShaderModule{
		logger:   logger,
		registry: logicalDevice.Registry(),
		id:       id,

		shaderModule: shaderModule,
	}, nil
}

// Handle returns the underlying vkngwrapper shader module.
func (s *ShaderModule) Handle() core1_0.ShaderModule {
	return s.shaderModule
}

func (s *ShaderModule) ID() registry.ID {
	return s.id
}

// Destroy releases the native shader module.
func (s *ShaderModule) Destroy() error {
	s.logger.Debug("ShaderModule::Destroy")

	return s.registry.Destroy(s.id)
}

// SPIR-V is a little-endian word stream regardless of host byte order.
func spirvWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}

	return words
}
