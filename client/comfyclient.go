package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ComfyClientCallbacks receive the events of the ComfyUI websocket stream.
// All of them are optional.
type ComfyClientCallbacks struct {
	QueueCountChanged func(*ComfyClient, int)
	ExecutionStarted  func(*ComfyClient, *WSMessageDataExecutionStart)
	Executing         func(*ComfyClient, *WSMessageDataExecuting)
	Progress          func(*ComfyClient, *WSMessageDataProgress)
	Executed          func(*ComfyClient, *WSMessageDataExecuted)
	ExecutionError    func(*ComfyClient, *WSMessageExecutionError)
}

// ComfyClient follows a ComfyUI instance: it listens to the websocket status
// stream and fetches the images nodes report as executed.
type ComfyClient struct {
	serverBaseAddress string
	serverAddress     string
	serverPort        int
	clientid          string
	queuecount        int
	callbacks         *ComfyClientCallbacks
	httpclient        *http.Client
	webSocket         *WebSocketConnection
	log               *zap.Logger
}

// NewComfyClient creates a new client for the ComfyUI server at address:port
func NewComfyClient(server_address string, server_port int, callbacks *ComfyClientCallbacks, logger *zap.Logger) *ComfyClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if callbacks == nil {
		callbacks = &ComfyClientCallbacks{}
	}
	sbaseaddr := server_address + ":" + strconv.Itoa(server_port)
	retv := &ComfyClient{
		serverBaseAddress: sbaseaddr,
		serverAddress:     server_address,
		serverPort:        server_port,
		clientid:          uuid.New().String(),
		callbacks:         callbacks,
		httpclient:        &http.Client{},
		log:               logger,
	}
	retv.webSocket = NewWebSocketConnection(
		fmt.Sprintf("ws://%s/ws?clientId=%s", sbaseaddr, url.QueryEscape(retv.clientid)), retv, logger)
	return retv
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

// QueueCount is the last queue size reported by the server
func (c *ComfyClient) QueueCount() int {
	return c.queuecount
}

// return the underlying http client
func (c *ComfyClient) HttpClient() *http.Client {
	return c.httpclient
}

// set the underlying http client
func (c *ComfyClient) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

// Connect opens the websocket stream. See WebSocketConnection.ConnectWithManager for timeoutSeconds.
func (c *ComfyClient) Connect(timeoutSeconds int) error {
	return c.webSocket.ConnectWithManager(timeoutSeconds)
}

// Done is signalled when the websocket stream ends
func (c *ComfyClient) Done() <-chan bool {
	return c.webSocket.ConnectionDone
}

func (c *ComfyClient) Close() error {
	return c.webSocket.Close()
}

// OnMessage parses each websocket frame and dispatches it to the callbacks
func (c *ComfyClient) OnMessage(msg string) {
	message := &WSStatusMessage{}
	err := json.Unmarshal([]byte(msg), &message)
	if err != nil {
		c.log.Error("Deserializing Status Message", zap.Error(err))
		return
	}

	switch message.Type {
	case "status":
		s := message.Data.(*WSMessageDataStatus)
		c.queuecount = s.Status.ExecInfo.QueueRemaining
		if c.callbacks.QueueCountChanged != nil {
			c.callbacks.QueueCountChanged(c, c.queuecount)
		}
	case "execution_start":
		if c.callbacks.ExecutionStarted != nil {
			c.callbacks.ExecutionStarted(c, message.Data.(*WSMessageDataExecutionStart))
		}
	case "executing":
		if c.callbacks.Executing != nil {
			c.callbacks.Executing(c, message.Data.(*WSMessageDataExecuting))
		}
	case "progress":
		if c.callbacks.Progress != nil {
			c.callbacks.Progress(c, message.Data.(*WSMessageDataProgress))
		}
	case "executed":
		if c.callbacks.Executed != nil {
			c.callbacks.Executed(c, message.Data.(*WSMessageDataExecuted))
		}
	case "execution_error":
		if c.callbacks.ExecutionError != nil {
			c.callbacks.ExecutionError(c, message.Data.(*WSMessageExecutionError))
		}
	case "execution_cached", "execution_success", "progress_state", "crystools.monitor":
	default:
		c.log.Debug("Unhandled message type", zap.String("type", message.Type))
	}
}

func (c *ComfyClient) get(path string) ([]byte, error) {
	resp, err := c.httpclient.Get(fmt.Sprintf("http://%s%s", c.serverBaseAddress, path))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return body, nil
}

// GetImage downloads an output image through the server's /view route
func (c *ComfyClient) GetImage(image_data DataOutput) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", image_data.Filename)
	params.Add("subfolder", image_data.Subfolder)
	params.Add("type", image_data.Type)
	return c.get("/view?" + params.Encode())
}

func (c *ComfyClient) GetSystemStats() (*SystemStats, error) {
	body, err := c.get("/system_stats")
	if err != nil {
		return nil, err
	}

	retv := &SystemStats{}
	err = json.Unmarshal(body, &retv)
	if err != nil {
		return nil, err
	}
	return retv, nil
}
