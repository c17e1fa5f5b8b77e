package argateway

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/everFinance/goar"
	"github.com/everFinance/goar/types"
	"github.com/everFinance/goar/utils"
	"github.com/permadata-network/argateway/schema"
)

const maxPeerFanout = 30

// PeerClient talks to the weave. Every fetch tries the trusted node
// first and then walks a shuffled slice of peers, so one slow or lying
// node never pins an import.
type PeerClient struct {
	cli     *goar.Client
	nodeUrl string
	httpCli *http.Client

	lock  sync.RWMutex
	peers []string
}

func NewPeerClient(nodeUrl string, proxyUrl ...string) *PeerClient {
	cli := goar.NewClient(nodeUrl, proxyUrl...)
	p := &PeerClient{
		cli:     cli,
		nodeUrl: nodeUrl,
		httpCli: &http.Client{Timeout: 30 * time.Second},
	}
	if err := p.RefreshPeers(); err != nil {
		log.Warn("fetch peers failed, running with trusted node only", "err", err)
	}
	return p
}

func (p *PeerClient) RefreshPeers() error {
	peers, err := p.cli.GetPeers()
	if err != nil {
		return err
	}
	rand.Shuffle(len(peers), func(i, j int) {
		peers[i], peers[j] = peers[j], peers[i]
	})
	if len(peers) > maxPeerFanout {
		peers = peers[:maxPeerFanout]
	}
	p.lock.Lock()
	p.peers = peers
	p.lock.Unlock()
	return nil
}

func (p *PeerClient) Peers() []string {
	p.lock.RLock()
	defer p.lock.RUnlock()
	peers := make([]string, len(p.peers))
	copy(peers, p.peers)
	return peers
}

func (p *PeerClient) GetInfo() (*types.NetworkInfo, error) {
	info, err := p.cli.GetInfo()
	if err == nil {
		return info, nil
	}
	pNode := goar.NewTempConn()
	pNode.SetTimeout(10 * time.Second)
	for _, peer := range p.Peers() {
		pNode.SetTempConnUrl("http://" + peer)
		info, err = pNode.GetInfo()
		if err == nil && info != nil {
			return info, nil
		}
	}
	return nil, schema.ErrFetchBlock
}

func (p *PeerClient) GetBlockByHash(id string) (*types.Block, error) {
	block, err := p.cli.GetBlockByID(id)
	if err == nil {
		return block, nil
	}
	pNode := goar.NewTempConn()
	pNode.SetTimeout(10 * time.Second)
	for _, peer := range p.Peers() {
		pNode.SetTempConnUrl("http://" + peer)
		block, err = pNode.GetBlockByID(id)
		if err == nil && block != nil {
			return block, nil
		}
	}
	return nil, schema.ErrFetchBlock
}

func (p *PeerClient) GetBlockByHeight(height int64) (*types.Block, error) {
	block, err := p.cli.GetBlockByHeight(height)
	if err == nil {
		return block, nil
	}
	pNode := goar.NewTempConn()
	pNode.SetTimeout(10 * time.Second)
	for _, peer := range p.Peers() {
		pNode.SetTempConnUrl("http://" + peer)
		block, err = pNode.GetBlockByHeight(height)
		if err == nil && block != nil {
			return block, nil
		}
	}
	return nil, schema.ErrFetchBlock
}

// GetUnconfirmedTx also finds headers still in the mempool.
func (p *PeerClient) GetUnconfirmedTx(arId string) (*types.Transaction, error) {
	tx, err := p.cli.GetUnconfirmedTx(arId)
	if err == nil {
		return tx, nil
	}
	pNode := goar.NewTempConn()
	pNode.SetTimeout(10 * time.Second)
	for _, peer := range p.Peers() {
		pNode.SetTempConnUrl("http://" + peer)
		tx, err = pNode.GetUnconfirmedTx(arId)
		if err == nil && tx != nil {
			return tx, nil
		}
	}
	return nil, schema.ErrFetchTx
}

func (p *PeerClient) GetTxData(arId string) ([]byte, error) {
	data, err := p.cli.GetTransactionDataByGateway(arId)
	if err == nil {
		return data, nil
	}
	pNode := goar.NewTempConn()
	for _, peer := range p.Peers() {
		pNode.SetTempConnUrl("http://" + peer)
		data, err = pNode.DownloadChunkData(arId)
		if err == nil {
			return data, nil
		}
	}
	return nil, schema.ErrFetchData
}

// GetTxOffset reads /tx/{id}/offset. goar keeps this client call
// unexported and its exported DownloadChunkData materializes the whole
// payload, so the read goes over plain http instead.
func (p *PeerClient) GetTxOffset(arId string) (*types.TransactionOffset, error) {
	path := "/tx/" + arId + "/offset"
	for _, nodeUrl := range p.nodeUrls() {
		offset := &types.TransactionOffset{}
		if err := p.getJson(nodeUrl, path, offset); err == nil {
			return offset, nil
		}
	}
	return nil, schema.ErrFetchData
}

// GetChunkData reads one chunk at an absolute weave offset via /chunk.
func (p *PeerClient) GetChunkData(offset int64) ([]byte, error) {
	path := "/chunk/" + strconv.FormatInt(offset, 10)
	for _, nodeUrl := range p.nodeUrls() {
		chunk := &types.TransactionChunk{}
		if err := p.getJson(nodeUrl, path, chunk); err != nil {
			continue
		}
		data, err := utils.Base64Decode(chunk.Chunk)
		if err != nil {
			continue
		}
		return data, nil
	}
	return nil, schema.ErrFetchData
}

// nodeUrls is the fetch order: trusted node first, then peers.
func (p *PeerClient) nodeUrls() []string {
	urls := []string{p.nodeUrl}
	for _, peer := range p.Peers() {
		urls = append(urls, "http://"+peer)
	}
	return urls
}

func (p *PeerClient) getJson(nodeUrl, path string, out interface{}) error {
	resp, err := p.httpCli.Get(nodeUrl + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// GetPriceWinston returns the network's base price for storing dataSize
// bytes, used to scale retry backoff by bundle weight.
func (p *PeerClient) GetPriceWinston(dataSize int64) (int64, error) {
	price, err := p.cli.GetTransactionPrice(int(dataSize), nil)
	if err == nil {
		return price, nil
	}
	pNode := goar.NewTempConn()
	pNode.SetTimeout(10 * time.Second)
	for _, peer := range p.Peers() {
		pNode.SetTempConnUrl("http://" + peer)
		price, err = pNode.GetTransactionPrice(int(dataSize), nil)
		if err == nil {
			return price, nil
		}
	}
	return 0, schema.ErrFetchPrice
}
