package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/vitwit/payterm/cache"
	"github.com/vitwit/payterm/clients"
	"github.com/vitwit/payterm/reconciler"
	"github.com/vitwit/payterm/types"
	"github.com/vitwit/payterm/utils"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

type networkView struct {
	Network types.Network     `json:"network"`
	Family  types.ChainFamily `json:"family"`
	Testnet bool              `json:"testnet"`
	State   reconciler.State  `json:"state"`
	QR      types.QRPayload   `json:"qr"`
}

// transactionView adds display fields to a transaction.
type transactionView struct {
	*types.Transaction
	Status        types.TransactionStatus `json:"status"`
	DisplayAmount string                  `json:"displayAmount,omitempty"`
	Itemized      utils.ItemizedList      `json:"itemized"`
	Totals        *utils.ItemizedTotals   `json:"totals,omitempty"`
}

type activeView struct {
	reconciler.Snapshot
	Transaction *transactionView `json:"transaction"`
}

type createRequest struct {
	// Amount in major units of the requested asset, e.g. "1.5".
	Amount string `json:"amount" binding:"required"`
	// Decimals of the requested token. Defaults to the native asset's.
	Decimals *int32 `json:"decimals" binding:"omitempty,min=0,max=36"`

	Description            string       `json:"description"`
	MerchantName           string       `json:"merchantName"`
	MerchantLocation       string       `json:"merchantLocation"`
	Items                  []utils.Item `json:"items"`
	ItemizedList           string       `json:"itemizedList"`
	RequestedTokenContract string       `json:"requestedTokenContract"`
}

type withdrawRequest struct {
	To    string `json:"to" binding:"required"`
	Token string `json:"token"`
}

type itemizedRequest struct {
	ItemizedList string `json:"itemizedList"`
}

func network(c *gin.Context) types.Network {
	return types.Network(c.Param("network"))
}

// actionContext detaches a write from the request so a client disconnect
// does not abandon a submitted transaction.
func actionContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func viewOf(tx *types.Transaction, family types.ChainFamily, native string) *transactionView {
	if tx == nil {
		return nil
	}
	v := &transactionView{
		Transaction: tx,
		Status:      tx.Status(),
		Itemized:    utils.ParseItemizedList(tx.ItemizedList),
	}
	if tx.IsNative(family, native) && tx.Amount != nil {
		v.DisplayAmount = utils.ToMajorUnits(tx.Amount, family.Decimals()).String()
	}
	if v.Itemized.State == utils.ItemizedValid {
		totals := v.Itemized.Totals()
		v.Totals = &totals
	}
	return v
}

func (s *Server) listNetworks(c *gin.Context) {
	networks := s.term.Networks()
	out := make([]networkView, 0, len(networks))
	for _, n := range networks {
		client, err := s.term.Client(n)
		if err != nil {
			continue
		}
		view := networkView{Network: n, Family: n.Family(), Testnet: n.IsTestnet(), QR: client.QRPayload()}
		if rec, err := s.term.Reconciler(n); err == nil {
			view.State = rec.State()
		}
		out = append(out, view)
	}
	Success(c, out)
}

func (s *Server) getActive(c *gin.Context) {
	rec, err := s.term.Reconciler(network(c))
	if err != nil {
		Error(c, err)
		return
	}
	snap := rec.Snapshot()
	Success(c, activeView{Snapshot: snap, Transaction: viewOf(snap.Active, snap.Network.Family(), s.nativeToken(snap.Network))})
}

// nativeToken is the contract that stands for the native asset on n.
func (s *Server) nativeToken(n types.Network) string {
	client, err := s.term.Client(n)
	if err != nil {
		return n.Family().NativeToken()
	}
	return client.NativeTokenContract()
}

func (s *Server) refresh(c *gin.Context) {
	n := network(c)
	rec, err := s.term.Reconciler(n)
	if err != nil {
		Error(c, err)
		return
	}
	if err := rec.Refresh(c.Request.Context()); err != nil && !errors.Is(err, reconciler.ErrFetchInFlight) {
		Error(c, err)
		return
	}
	if recent, err := s.term.Recent(n); err == nil {
		_ = recent.Refresh(c.Request.Context())
	}
	snap := rec.Snapshot()
	Success(c, activeView{Snapshot: snap, Transaction: viewOf(snap.Active, n.Family(), s.nativeToken(n))})
}

func (s *Server) getRecent(c *gin.Context) {
	n := network(c)
	tracker, err := s.term.Recent(n)
	if err != nil {
		Error(c, err)
		return
	}
	txs := tracker.Transactions()
	if len(txs) == 0 && tracker.LastError() != nil {
		Error(c, tracker.LastError())
		return
	}
	native := s.nativeToken(n)
	out := make([]*transactionView, 0, len(txs))
	for i := range txs {
		out = append(out, viewOf(&txs[i], n.Family(), native))
	}
	Success(c, gin.H{"transactions": out, "updated": tracker.Updated()})
}

func (s *Server) getOwner(c *gin.Context) {
	n := network(c)
	isOwner, owner, err := s.term.IsOwner(c.Request.Context(), n)
	if err != nil {
		Error(c, err)
		return
	}
	account, _ := s.term.Session().Account(n.Family())
	Success(c, gin.H{"owner": owner, "account": account, "isOwner": isOwner})
}

func (s *Server) getBalance(c *gin.Context) {
	n := network(c)
	client, err := s.term.Client(n)
	if err != nil {
		Error(c, err)
		return
	}
	token := c.Query("token")
	if err := utils.ValidateTokenAddress(n.Family(), token); err != nil {
		badRequest(c, "%v", err)
		return
	}

	balance, err := client.GetContractBalance(c.Request.Context(), token)
	if err != nil {
		Error(c, err)
		return
	}

	decimals := n.Family().Decimals()
	if raw := c.Query("decimals"); raw != "" {
		d, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || d < 0 {
			badRequest(c, "invalid decimals %q", raw)
			return
		}
		decimals = int32(d)
	} else if tokens, ok := client.(clients.TokenDecimaler); ok && token != "" && token != client.NativeTokenContract() {
		if decimals, err = tokens.TokenDecimals(c.Request.Context(), token); err != nil {
			Error(c, err)
			return
		}
	}
	Success(c, gin.H{
		"token":   token,
		"balance": balance.String(),
		"display": utils.ToMajorUnits(balance, decimals).String(),
	})
}

func (s *Server) getContract(c *gin.Context) {
	client, err := s.term.Client(network(c))
	if err != nil {
		Error(c, err)
		return
	}
	inspector, ok := client.(clients.Inspector)
	if !ok {
		Error(c, types.NewError(types.ErrUnsupportedOperation, "%s does not expose contract counters", client.GetNetwork()))
		return
	}
	info, err := inspector.Inspect(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, info)
}

func (s *Server) getQR(c *gin.Context) {
	client, err := s.term.Client(network(c))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, client.QRPayload())
}

func (s *Server) getQRImage(c *gin.Context) {
	client, err := s.term.Client(network(c))
	if err != nil {
		Error(c, err)
		return
	}

	size := defaultQRSize
	if raw := c.Query("size"); raw != "" {
		size, err = strconv.Atoi(raw)
		if err != nil || size <= 0 || size > maxQRSize {
			badRequest(c, "size must be between 1 and %d", maxQRSize)
			return
		}
	}

	png, err := QRCodePNG(client.QRPayload(), size)
	if err != nil {
		Error(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// QRCodePNG renders the JSON form of payload as a PNG QR code.
func QRCodePNG(payload types.QRPayload, size int) ([]byte, error) {
	content, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(string(content), qrcode.Medium, size)
}

func (s *Server) verify(c *gin.Context) {
	res, err := s.term.Verifier().VerifyPayment(c.Request.Context(), network(c), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, res)
}

func (s *Server) createTransaction(c *gin.Context) {
	n := network(c)
	d, err := s.term.Dispatcher(n)
	if err != nil {
		Error(c, err)
		return
	}

	var body createRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request: %v", err)
		return
	}
	req, err := body.toRequest(n.Family())
	if err != nil {
		Error(c, err)
		return
	}
	if err := s.term.Profiles().Apply(c.Request.Context(), req); err != nil {
		LoggerFrom(c).Warn("merchant profile unavailable", map[string]any{"error": err})
	}
	if err := utils.ValidateStruct(req); err != nil {
		badRequest(c, "%v", err)
		return
	}
	if !s.requireOwner(c, n) {
		return
	}

	Action(c, d.Create(actionContext(c), *req))
}

func (body createRequest) toRequest(family types.ChainFamily) (*types.CreateTransactionRequest, error) {
	major, err := utils.ValidateAmount(strings.TrimSpace(body.Amount))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "%v", err)
	}

	token := strings.TrimSpace(body.RequestedTokenContract)
	if err := utils.ValidateTokenAddress(family, token); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "%v", err)
	}
	if token == "" {
		token = family.NativeToken()
	}

	decimals := family.Decimals()
	if body.Decimals != nil {
		decimals = *body.Decimals
	}
	amount, err := utils.ToMinorUnits(*major, decimals)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "%v", err)
	}

	itemized := body.ItemizedList
	if len(body.Items) > 0 {
		if itemized, err = utils.EncodeItemizedList(body.Items); err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "items: %v", err)
		}
	}

	req := &types.CreateTransactionRequest{
		Amount:                 amount,
		Description:            body.Description,
		MerchantName:           body.MerchantName,
		MerchantLocation:       body.MerchantLocation,
		ItemizedList:           itemized,
		RequestedTokenContract: token,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Server) payTransaction(c *gin.Context) {
	d, err := s.term.Dispatcher(network(c))
	if err != nil {
		Error(c, err)
		return
	}
	Action(c, d.Pay(actionContext(c)))
}

func (s *Server) cancelTransaction(c *gin.Context) {
	n := network(c)
	d, err := s.term.Dispatcher(n)
	if err != nil {
		Error(c, err)
		return
	}
	if !s.requireOwner(c, n) {
		return
	}
	Action(c, d.Cancel(actionContext(c)))
}

func (s *Server) clearTransaction(c *gin.Context) {
	n := network(c)
	d, err := s.term.Dispatcher(n)
	if err != nil {
		Error(c, err)
		return
	}
	if !s.requireOwner(c, n) {
		return
	}
	Action(c, d.Clear(actionContext(c)))
}

func (s *Server) withdraw(c *gin.Context) {
	n := network(c)
	d, err := s.term.Dispatcher(n)
	if err != nil {
		Error(c, err)
		return
	}

	var body withdrawRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request: %v", err)
		return
	}
	if err := utils.ValidateAddress(n.Family(), body.To); err != nil {
		badRequest(c, "%v", err)
		return
	}
	if err := utils.ValidateTokenAddress(n.Family(), body.Token); err != nil {
		badRequest(c, "%v", err)
		return
	}
	if !s.requireOwner(c, n) {
		return
	}
	Action(c, d.Withdraw(actionContext(c), body.To, body.Token))
}

// requireOwner rejects the request unless the connected account owns the
// network's contract.
func (s *Server) requireOwner(c *gin.Context, n types.Network) bool {
	if _, ok := s.term.Session().Account(n.Family()); !ok {
		Error(c, types.NewError(types.ErrWalletNotConnected, "no %s wallet connected", n.Family()))
		return false
	}
	isOwner, owner, err := s.term.IsOwner(c.Request.Context(), n)
	if err != nil {
		Error(c, err)
		return false
	}
	if !isOwner {
		Error(c, &types.TerminalError{
			Code:    types.ErrNotOwner,
			Message: "connected account is not the contract owner",
			Data:    gin.H{"owner": owner},
		})
		return false
	}
	return true
}

func (s *Server) getMerchant(c *gin.Context) {
	p, err := s.term.Profiles().Load(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, p)
}

func (s *Server) putMerchant(c *gin.Context) {
	var p cache.MerchantProfile
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "invalid request: %v", err)
		return
	}
	if err := utils.ValidateStruct(&p); err != nil {
		badRequest(c, "%v", err)
		return
	}
	if err := s.term.Profiles().Save(c.Request.Context(), p); err != nil {
		Error(c, err)
		return
	}
	saved, err := s.term.Profiles().Load(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, saved)
}

func (s *Server) itemizedTotals(c *gin.Context) {
	var body itemizedRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request: %v", err)
		return
	}
	list := utils.ParseItemizedList(body.ItemizedList)
	Success(c, gin.H{"itemized": list, "totals": list.Totals()})
}
