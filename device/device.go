package device

import (
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/hwinfo"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// NoMatchingDeviceError is the error returned from Select when no enumerated
// physical device satisfies the caller's predicate
var NoMatchingDeviceError error = errors.New("no physical device matches the requested capabilities")

// UnsupportedFeatureError is the error returned from CreateLogicalDevice when a
// requested feature is absent from the chosen device's capability snapshot
var UnsupportedFeatureError error = errors.New("requested feature is not supported by the physical device")

// TimeoutError is the error returned from bounded device waits (fence waits,
// swapchain image acquisition) when the timeout elapses first
var TimeoutError error = errors.New("wait timed out")

// Select returns the first DeviceInfo satisfying the predicate, in the order
// infos was produced. First-match (rather than best-match) selection is
// deliberate: callers wanting a stronger policy supply a stricter predicate.
func Select(infos []*hwinfo.DeviceInfo, predicate func(*hwinfo.DeviceInfo) bool) (*hwinfo.DeviceInfo, error) {
	for _, info := range infos {
		if predicate(info) {
			return info, nil
		}
	}

	return nil, NoMatchingDeviceError
}

// QueueRequest asks for len(Priorities) queues from one queue family.
type QueueRequest struct {
	FamilyIndex int
	Priorities  []float32
}

// CreateOptions configures logical device creation.
type CreateOptions struct {
	QueueRequests []QueueRequest

	// Features is the set of optional device features to enable. Every feature
	// set to true must be present in the capability snapshot or creation fails
	// with UnsupportedFeatureError before any native call is made.
	Features *core1_0.PhysicalDeviceFeatures

	ExtensionNames []string
	LayerNames     []string
}

// Queue is one retrieved device queue. The native API requires external
// serialization per queue: a Queue may be shared between goroutines only if
// the caller serializes access to it.
type Queue struct {
	queue       core1_0.Queue
	familyIndex int
	queueIndex  int
}

// Handle returns the underlying vkngwrapper queue.
func (q *Queue) Handle() core1_0.Queue {
	return q.queue
}

func (q *Queue) FamilyIndex() int {
	return q.familyIndex
}

func (q *Queue) QueueIndex() int {
	return q.queueIndex
}

func (q *Queue) WaitIdle() error {
	_, err := q.queue.WaitIdle()
	return err
}

// LogicalDevice is the active connection to a chosen physical device. It is
// the required parent handle for every subsequently created resource; the
// registry refuses to destroy it while children remain outstanding.
type LogicalDevice struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	device core1_0.Device
	info   *hwinfo.DeviceInfo
	queues []*Queue
}

// CreateLogicalDevice creates the logical device, retrieves every requested
// queue, and registers the device as a child of instance.
func CreateLogicalDevice(
	logger *slog.Logger,
	reg *registry.Registry,
	instance *Instance,
	info *hwinfo.DeviceInfo,
	options CreateOptions,
) (*LogicalDevice, error) {
	logger.Debug("LogicalDevice::Create")

	if options.Features != nil {
		missing := missingFeatures(options.Features, info.Features())
		if len(missing) > 0 {
			return nil, errors.Wrapf(UnsupportedFeatureError, "%s on device %s", strings.Join(missing, ", "), info.Name())
		}
	}

	queueCreateInfos := make([]core1_0.DeviceQueueCreateInfo, 0, len(options.QueueRequests))
	for _, request := range options.QueueRequests {
		queueCreateInfos = append(queueCreateInfos, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: request.FamilyIndex,
			QueuePriorities:  request.Priorities,
		})
	}

	device, _, err := info.PhysicalDevice().CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueCreateInfos,
		EnabledFeatures:       options.Features,
		EnabledExtensionNames: options.ExtensionNames,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create logical device on %s", info.Name())
	}

	id, err := reg.Register(registry.KindDevice, info.Name(), func() {
		device.Destroy(nil)
	}, instance.ID())
	if err != nil {
		device.Destroy(nil)
		return nil, err
	}

	logicalDevice := &LogicalDevice{
		logger:   logger,
		registry: reg,
		id:       id,
		device:   device,
		info:     info,
	}

	for _, request := range options.QueueRequests {
		for queueIndex := range request.Priorities {
			logicalDevice.queues = append(logicalDevice.queues, &Queue{
				queue:       device.GetQueue(request.FamilyIndex, queueIndex),
				familyIndex: request.FamilyIndex,
				queueIndex:  queueIndex,
			})
		}
	}

	return logicalDevice, nil
}

// Handle returns the underlying vkngwrapper device.
func (d *LogicalDevice) Handle() core1_0.Device {
	return d.device
}

func (d *LogicalDevice) ID() registry.ID {
	return d.id
}

func (d *LogicalDevice) Registry() *registry.Registry {
	return d.registry
}

func (d *LogicalDevice) Logger() *slog.Logger {
	return d.logger
}

// Info returns the capability snapshot the device was created from.
func (d *LogicalDevice) Info() *hwinfo.DeviceInfo {
	return d.info
}

// Queues returns every queue retrieved at creation, in request order.
func (d *LogicalDevice) Queues() []*Queue {
	return d.queues
}

// Queue returns the queueIndex-th queue of the given family, or nil when no
// such queue was requested.
func (d *LogicalDevice) Queue(familyIndex, queueIndex int) *Queue {
	for _, queue := range d.queues {
		if queue.familyIndex == familyIndex && queue.queueIndex == queueIndex {
			return queue
		}
	}
	return nil
}

// WaitIdle blocks until all device queues drain. It is the heavyweight
// host-side synchronization point, intended for shutdown and swapchain
// recreation.
func (d *LogicalDevice) WaitIdle() error {
	d.logger.Debug("LogicalDevice::WaitIdle")

	_, err := d.device.WaitIdle()
	return err
}

// Destroy tears down the device through the registry, failing with
// registry.DependencyStillAliveError while children remain.
func (d *LogicalDevice) Destroy() error {
	return d.registry.Destroy(d.id)
}

// DestroyCascade tears down the device and every live child, children first.
func (d *LogicalDevice) DestroyCascade() error {
	return d.registry.DestroyCascade(d.id)
}

// missingFeatures lists the feature flags set in requested but absent from
// supported. PhysicalDeviceFeatures is a flat struct of bools, so the check
// walks its fields rather than enumerating all fifty-odd by hand.
func missingFeatures(requested, supported *core1_0.PhysicalDeviceFeatures) []string {
	requestedValue := reflect.ValueOf(*requested)
	supportedValue := reflect.ValueOf(*supported)

	var missing []string
	for fieldIndex := 0; fieldIndex < requestedValue.NumField(); fieldIndex++ {
		field := requestedValue.Type().Field(fieldIndex)
		if field.Type.Kind() != reflect.Bool {
			continue
		}
		if requestedValue.Field(fieldIndex).Bool() && !supportedValue.Field(fieldIndex).Bool() {
			missing = append(missing, field.Name)
		}
	}

	return missing
}
