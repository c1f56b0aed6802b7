package main

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/vmihailenco/msgpack/v5"
)

type options struct {
	Addr string `long:"addr" default:"localhost:6379" description:"Server address"`
}

// argParser parses and validates the command and its arguments
func argParser(input string) (map[string]interface{}, error) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil, fmt.Errorf("no command entered")
	}

	command := strings.ToUpper(parts[0])
	args := parts[1:]
	request := map[string]interface{}{
		"command": command,
	}

	need := func(n int, usage string) error {
		if len(args) < n {
			return fmt.Errorf("usage: %s %s", command, usage)
		}
		return nil
	}
	index := func(s string) (int64, error) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: index must be an integer", command)
		}
		return n, nil
	}

	switch command {
	case "PING", "FLUSH":
		if len(args) > 0 {
			return nil, fmt.Errorf("%s does not require any arguments", command)
		}

	case "ECHO":
		if err := need(1, "message"); err != nil {
			return nil, err
		}
		request["message"] = strings.Join(args, " ")

	case "SET":
		if err := need(2, "key value [ttl_ms]"); err != nil {
			return nil, err
		}
		request["key"] = args[0]
		request["value"] = args[1]
		if len(args) > 2 {
			ttl, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("SET: ttl must be an integer")
			}
			request["exp"] = ttl
		}

	case "GET", "DEL", "LPOP", "RPOP", "LLEN":
		if err := need(1, "key"); err != nil {
			return nil, err
		}
		request["key"] = args[0]

	case "INCR":
		if err := need(2, "key offset"); err != nil {
			return nil, err
		}
		request["key"] = args[0]
		request["offset"] = args[1]

	case "PUSH", "LPUSH", "RPUSH":
		if err := need(2, "key value [value ...]"); err != nil {
			return nil, err
		}
		request["key"] = args[0]
		request["values"] = args[1:]

	case "LINDEX", "LREM":
		if err := need(2, "key index"); err != nil {
			return nil, err
		}
		n, err := index(args[1])
		if err != nil {
			return nil, err
		}
		request["key"] = args[0]
		request["index"] = n

	case "LINSERT", "LSET":
		if err := need(3, "key index value"); err != nil {
			return nil, err
		}
		n, err := index(args[1])
		if err != nil {
			return nil, err
		}
		request["key"] = args[0]
		request["index"] = n
		request["value"] = args[2]

	case "LRANGE":
		if err := need(1, "key [start stop]"); err != nil {
			return nil, err
		}
		request["key"] = args[0]
		if len(args) == 3 {
			start, err := index(args[1])
			if err != nil {
				return nil, err
			}
			stop, err := index(args[2])
			if err != nil {
				return nil, err
			}
			request["index"] = start
			request["stop"] = stop
		}

	default:
		// Unknown command
		return nil, fmt.Errorf("unknown command: %s", command)
	}

	return request, nil
}

// formatResponse renders a server response for the terminal
func formatResponse(serverResponse map[string]interface{}) string {
	status, _ := serverResponse["status"].(string)
	switch status {
	case "OK":
		if message, ok := serverResponse["message"].(string); ok {
			return "Server: " + message
		}
		if values, ok := serverResponse["values"].([]interface{}); ok {
			var b strings.Builder
			if len(values) == 0 {
				return "Server: (empty list)"
			}
			for i, v := range values {
				if i > 0 {
					b.WriteByte('\n')
				}
				fmt.Fprintf(&b, "%d) %v", i, v)
			}
			return b.String()
		}
		if value, ok := serverResponse["value"]; ok {
			return fmt.Sprint("Server: ", value)
		}
		return "Server: OK"
	case "ERROR":
		return fmt.Sprint("Server Error: ", serverResponse["message"])
	default:
		return fmt.Sprint("Unexpected server response: ", serverResponse)
	}
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", opts.Addr)
	if err != nil {
		fmt.Println("Error connecting to server:", err)
		os.Exit(1)
	}
	defer conn.Close()

	enc := msgpack.NewEncoder(conn)
	dec := msgpack.NewDecoder(bufio.NewReader(conn))

	fmt.Println("Connected to server. Type commands (e.g., PING, RPUSH list a b, LRANGE list, LINSERT list 1 x) and press Enter.")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(">> ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "quit") || strings.EqualFold(input, "exit") {
			return
		}

		// Parse and validate the input
		request, err := argParser(input)
		if err != nil {
			fmt.Println("Error:", err)
			continue
		}

		// Send the request using MessagePack
		if err := enc.Encode(request); err != nil {
			fmt.Println("Error sending to server:", err)
			return
		}

		var serverResponse map[string]interface{}
		if err := dec.Decode(&serverResponse); err != nil {
			fmt.Println("Error reading from server:", err)
			return
		}
		fmt.Println(formatResponse(serverResponse))
	}
}
