package device

import (
	"encoding/binary"

	"github.com/ardnew/udmx/pkg"
)

// MaxDescriptorResponseSize is the maximum size for descriptor responses.
// The largest uDMX configuration (Audio/MIDI-Streaming) is 101 bytes.
const MaxDescriptorResponseSize = 256

// StandardRequestHandler handles standard USB device requests.
type StandardRequestHandler struct {
	device *Device

	// The slice returned from HandleSetup references this buffer.
	responseBuf [MaxDescriptorResponseSize]byte
}

// NewStandardRequestHandler creates a new standard request handler.
func NewStandardRequestHandler(dev *Device) *StandardRequestHandler {
	return &StandardRequestHandler{device: dev}
}

// HandleSetup processes a standard SETUP request.
// Returns the response data (may be nil) and an error. IN responses are
// truncated to wLength.
func (h *StandardRequestHandler) HandleSetup(setup *SetupPacket) ([]byte, error) {
	if !setup.IsStandard() {
		return nil, pkg.ErrInvalidRequest
	}

	var (
		resp []byte
		err  error
	)
	switch setup.Recipient() {
	case RequestRecipientDevice:
		resp, err = h.handleDeviceRequest(setup)
	case RequestRecipientInterface:
		resp, err = h.handleInterfaceRequest(setup)
	case RequestRecipientEndpoint:
		resp, err = h.handleEndpointRequest(setup)
	default:
		err = pkg.ErrInvalidRequest
	}
	if err != nil {
		return nil, err
	}
	if len(resp) > int(setup.Length) {
		resp = resp[:setup.Length]
	}
	return resp, nil
}

func (h *StandardRequestHandler) handleDeviceRequest(setup *SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		binary.LittleEndian.PutUint16(h.responseBuf[:2], uint16(h.device.GetStatus()))
		return h.responseBuf[:2], nil
	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureDeviceRemoteWakeup {
			return nil, pkg.ErrInvalidRequest
		}
		h.device.EnableRemoteWakeup(setup.Request == RequestSetFeature)
		return nil, nil
	case RequestSetAddress:
		return nil, h.device.SetAddress(uint8(setup.Value & 0x7F))
	case RequestGetDescriptor:
		return h.getDescriptor(setup)
	case RequestGetConfiguration:
		h.responseBuf[0] = 0
		if config := h.device.ActiveConfiguration(); config != nil {
			h.responseBuf[0] = config.Value
		}
		return h.responseBuf[:1], nil
	case RequestSetConfiguration:
		return nil, h.device.SetConfiguration(uint8(setup.Value & 0xFF))
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) handleInterfaceRequest(setup *SetupPacket) ([]byte, error) {
	iface := h.device.GetInterface(setup.InterfaceNumber())
	if iface == nil {
		return nil, pkg.ErrInvalidRequest
	}

	switch setup.Request {
	case RequestGetStatus:
		h.responseBuf[0], h.responseBuf[1] = 0, 0
		return h.responseBuf[:2], nil
	case RequestGetInterface:
		h.responseBuf[0] = iface.Alternate()
		return h.responseBuf[:1], nil
	case RequestSetInterface:
		// Every uDMX interface has only alternate setting 0.
		if setup.Value != 0 {
			return nil, pkg.ErrInvalidRequest
		}
		iface.SetAlternate(0)
		return nil, nil
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) handleEndpointRequest(setup *SetupPacket) ([]byte, error) {
	ep := h.device.GetEndpoint(setup.EndpointAddress())
	if ep == nil {
		return nil, pkg.ErrInvalidEndpoint
	}

	switch setup.Request {
	case RequestGetStatus:
		var status uint16
		if ep.IsStalled() {
			status = 1 // Halt
		}
		binary.LittleEndian.PutUint16(h.responseBuf[:2], status)
		return h.responseBuf[:2], nil
	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		ep.SetStall(setup.Request == RequestSetFeature)
		return nil, nil
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

// getDescriptor serves the device, configuration and string descriptors.
// A low-speed device has no device qualifier, so that request stalls.
func (h *StandardRequestHandler) getDescriptor(setup *SetupPacket) ([]byte, error) {
	var n int

	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		n = h.device.Descriptor.MarshalTo(h.responseBuf[:])

	case DescriptorTypeConfiguration:
		config := h.device.GetConfiguration(setup.DescriptorIndex() + 1)
		if config == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = config.MarshalTo(h.responseBuf[:])

	case DescriptorTypeString:
		data := h.device.GetString(setup.DescriptorIndex())
		if data == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = copy(h.responseBuf[:], data)

	default:
		return nil, pkg.ErrNotSupported
	}

	if n == 0 {
		return nil, pkg.ErrBufferTooSmall
	}
	return h.responseBuf[:n], nil
}
