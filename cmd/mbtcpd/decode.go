package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/TheCount/go-modbus-tcp/modbus"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	var response bool
	cmd := &cobra.Command{
		Use:   "decode HEX...",
		Short: "Decode Modbus/TCP frames given in hex",
		Long: `Decode one or more Modbus/TCP ADUs given as hex bytes. Whitespace
between bytes is ignored. Frames are decoded as requests unless --response
is given.`,
		Example: `  mbtcpd decode 00 01 00 00 00 06 01 03 00 00 00 0A
  mbtcpd decode --response 0001000000050103020102`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := hex.DecodeString(strings.Join(strings.Fields(strings.Join(args, " ")), ""))
			if err != nil {
				return fmt.Errorf("invalid hex input: %w", err)
			}
			return decodeFrames(cmd.OutOrStdout(), data, response)
		},
	}
	cmd.Flags().BoolVar(&response, "response", false, "decode frames as responses")
	return cmd
}

// decodeFrames prints every ADU in data.
func decodeFrames(out io.Writer, data []byte, response bool) error {
	parse := modbus.ParseRequest
	if response {
		parse = modbus.ParseResponse
	}
	for len(data) > 0 {
		adu, n, err := parse(data)
		if err != nil {
			var ce *modbus.CodecError
			if errors.As(err, &ce) {
				fmt.Fprintf(out, "exception: %s\n", ce.Exception)
			}
			return err
		}
		fmt.Fprintln(out, adu)
		fmt.Fprintf(out, "  %T %+v\n", adu.PDU, adu.PDU)
		if r, ok := adu.PDU.(*modbus.EncapsulatedInterfaceResponse); ok {
			if id, err := modbus.ParseDeviceIDResponse(r); err == nil {
				for _, obj := range id.Objects {
					fmt.Fprintf(out, "  object 0x%02X: %q\n", obj.ID, obj.Value)
				}
			}
		}
		data = data[n:]
	}
	return nil
}
