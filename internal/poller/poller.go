// Package poller runs one polling cycle for a single device: plan blocks,
// read them off the transport, decode every configured register, and
// assemble a Sample.
package poller

import (
	"time"

	"github.com/fieldwire/modbus-gateway/internal/coalesce"
	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/decode"
	"github.com/fieldwire/modbus-gateway/internal/gwerrors"
	"github.com/fieldwire/modbus-gateway/internal/model"
	"github.com/fieldwire/modbus-gateway/internal/transport"
	"go.uber.org/zap"
)

// PollOnce runs one polling cycle for a device: coalesce its registers into
// blocks, read each block through t, decode every register that block
// covers, and assemble a Sample.
//
// Partial read policy: a failing block is logged and skipped; the cycle
// continues with the remaining blocks. If at least one register decoded,
// PollOnce returns a Sample with DeviceStatus Online; otherwise the caller
// counts the cycle as a failed device poll and PollOnce returns the
// ConnectionLost error of a block that lost the connection if there was one,
// else gwerrors.Timeout if any block timed out, else gwerrors.NoData.
func PollOnce(t transport.Transport, portName string, dev config.DeviceConfig, portByteOrder model.ByteOrder, portWordOrder model.WordOrder, log *zap.SugaredLogger) (model.Sample, error) {
	start := time.Now()

	blocks := coalesce.Plan(dev.Registers)
	registers := make(map[string]model.DecodedValue)

	anyTimeout := false
	var connErr error

	for _, block := range blocks {
		result, err := readBlockWithTimeout(t, dev, block)
		if err != nil {
			if gwerrors.Is(err, gwerrors.Timeout) {
				anyTimeout = true
			}
			if connErr == nil && gwerrors.Is(err, gwerrors.ConnectionLost) {
				connErr = err
			}
			if log != nil {
				log.Warnw("block read failed", "port", portName, "device", dev.Name,
					"kind", block.Kind, "start", block.Start, "count", block.Count, "err", err)
			}
			continue
		}

		for _, reg := range dev.Registers {
			if !blockCovers(block, reg) {
				continue
			}
			window, ok := sliceWindow(result, block, reg)
			if !ok {
				continue
			}
			dv, err := decode.Decode(window, reg, portByteOrder, portWordOrder)
			if err != nil {
				if log != nil {
					log.Warnw("register decode failed", "port", portName, "device", dev.Name,
						"register", reg.Name, "err", err)
				}
				continue
			}
			registers[model.RegKey(reg.Kind, reg.Address)] = dv
		}
	}

	pollDuration := time.Since(start)

	if len(registers) == 0 {
		if connErr != nil {
			return model.Sample{}, connErr
		}
		if anyTimeout {
			return model.Sample{}, gwerrors.New(gwerrors.Timeout, "device poll timed out with no data")
		}
		return model.Sample{}, gwerrors.New(gwerrors.NoData, "device poll produced no decoded registers")
	}

	// Partial success is still Online; block failures surface via stats.
	return model.Sample{
		DeviceName:     dev.Name,
		PortName:       portName,
		CapturedAt:     time.Now(),
		Registers:      registers,
		DeviceStatus:   model.Online,
		PollDurationMs: pollDuration.Milliseconds(),
	}, nil
}

// readBlockWithTimeout issues one ReadBlock call bounded by the device's
// configured read timeout. ReadBlock is synchronous, so the timeout is
// enforced by racing it against a timer on a separate goroutine rather than
// via context; the transport capability set takes no context parameter.
//
// On timeout the abandoned call is still pending inside the client, so the
// next block read can briefly queue behind it on the client's own lock.
// The port still sees one transaction on the wire at a time, but observers
// counting in-flight calls at this layer may see a transient second one.
func readBlockWithTimeout(t transport.Transport, dev config.DeviceConfig, block coalesce.Block) (transport.ReadResult, error) {
	type result struct {
		res transport.ReadResult
		err error
	}
	ch := make(chan result, 1)
	go func() {
		res, err := t.ReadBlock(dev.UnitAddress, block.Kind, block.Start, block.Count)
		ch <- result{res, err}
	}()

	timeout := dev.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case r := <-ch:
		return r.res, r.err
	case <-time.After(timeout):
		return transport.ReadResult{}, gwerrors.New(gwerrors.Timeout, "block read exceeded device timeout")
	}
}

// blockCovers reports whether reg's address span lies entirely within block.
func blockCovers(block coalesce.Block, reg config.RegisterConfig) bool {
	if reg.Kind != block.Kind {
		return false
	}
	width := uint16(reg.DataType.WordCount())
	return reg.Address >= block.Start && reg.Address+width <= block.Start+block.Count
}

// sliceWindow extracts reg's 1- or 2-word (or equivalent bit) window from a
// block's raw read result.
func sliceWindow(result transport.ReadResult, block coalesce.Block, reg config.RegisterConfig) ([]uint16, bool) {
	width := int(reg.DataType.WordCount())
	offset := int(reg.Address - block.Start)

	if reg.Kind == model.Coil || reg.Kind == model.Discrete {
		if offset >= len(result.Bits) {
			return nil, false
		}
		if result.Bits[offset] {
			return []uint16{1}, true
		}
		return []uint16{0}, true
	}

	if offset+width > len(result.Words) {
		return nil, false
	}
	return result.Words[offset : offset+width], true
}
