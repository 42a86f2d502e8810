package system

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCalibrationCore/internal/a2l"
	"github.com/KevinKickass/OpenCalibrationCore/internal/config"
	"github.com/KevinKickass/OpenCalibrationCore/internal/xcp"
	"github.com/KevinKickass/OpenCalibrationCore/internal/xcp/eth"
	"github.com/KevinKickass/OpenCalibrationCore/internal/xcp/slcan"
)

const (
	TransportEthernet = "eth"
	TransportSLCAN    = "slcan"
)

var ErrNoCANBlock = errors.New("descriptor has no XCP_ON_CAN block")

// linkBuilder returns the factory for the lazily built XCP link. Values
// from the config win over the descriptor's protocol block.
func linkBuilder(cfg config.XCPConfig, tables func() *a2l.Tables, logger *zap.Logger) func() (xcp.Link, error) {
	return func() (xcp.Link, error) {
		var proto a2l.ProtocolConfig
		if t := tables(); t != nil {
			proto = t.Protocol
		}

		switch cfg.Transport {
		case TransportSLCAN:
			if proto.CAN == nil {
				return nil, ErrNoCANBlock
			}
			logger.Info("Using SLCAN link",
				zap.String("port", cfg.SerialPort),
				zap.Int("bitrate", proto.CAN.Baudrate),
				zap.Uint32("master_id", proto.CAN.MasterID),
				zap.Uint32("slave_id", proto.CAN.SlaveID))
			return slcan.New(slcan.Config{
				Port:       cfg.SerialPort,
				SerialBaud: cfg.SerialBaud,
				Bitrate:    proto.CAN.Baudrate,
				MasterID:   proto.CAN.MasterID,
				SlaveID:    proto.CAN.SlaveID,
			})

		case TransportEthernet, "":
			protocol, host, port := "tcp", a2l.DefaultEthernetHost, a2l.DefaultEthernetPort
			if e := proto.Ethernet; e != nil {
				if e.Protocol != "" {
					protocol = e.Protocol
				}
				if e.Host != "" {
					host = e.Host
				}
				if e.Port != 0 {
					port = e.Port
				}
			}
			if cfg.Protocol != "" {
				protocol = cfg.Protocol
			}
			if cfg.Host != "" {
				host = cfg.Host
			}
			if cfg.Port != 0 {
				port = cfg.Port
			}

			link, err := eth.New(protocol, host, port, cfg.Timeout)
			if err != nil {
				return nil, err
			}
			logger.Info("Using Ethernet link",
				zap.String("protocol", protocol),
				zap.String("address", link.Address()))
			return link, nil
		}
		return nil, fmt.Errorf("unknown xcp transport %q", cfg.Transport)
	}
}
