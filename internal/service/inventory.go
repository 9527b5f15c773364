package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/dto"
	"digital-goods-marketplace/internal/model"
	"digital-goods-marketplace/internal/repository"
	"digital-goods-marketplace/internal/secret"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type InventoryService interface {
	AddCodes(ctx context.Context, productID string, codes []string) (*dto.AddCodesResponse, error)
	AddStreamingAccount(ctx context.Context, productID, credentials string, maxProfiles int) (*model.StreamingAccount, error)
	StockLevel(ctx context.Context, productID string) (int64, error)
	// RevealCodes decrypts what was delivered on the buyer's order.
	RevealCodes(ctx context.Context, buyerID, orderID string) (*dto.OrderCodesResponse, error)
}

type inventoryServiceImpl struct {
	productRepo   repository.ProductRepository
	orderRepo     repository.OrderRepository
	inventoryRepo repository.InventoryRepository
	codec         secret.Codec
}

func NewInventoryService(
	productRepo repository.ProductRepository,
	orderRepo repository.OrderRepository,
	inventoryRepo repository.InventoryRepository,
	codec secret.Codec,
) InventoryService {
	return &inventoryServiceImpl{
		productRepo:   productRepo,
		orderRepo:     orderRepo,
		inventoryRepo: inventoryRepo,
		codec:         codec,
	}
}

func (s *inventoryServiceImpl) product(ctx context.Context, productID string) (*model.Product, error) {
	product, err := s.productRepo.FindByID(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Wrap(apperror.CodeNotFound, err, "product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

func (s *inventoryServiceImpl) AddCodes(ctx context.Context, productID string, codes []string) (*dto.AddCodesResponse, error) {
	product, err := s.product(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Type == model.ProductTypeStreaming || product.Source != model.SourceStock {
		return nil, apperror.New(apperror.CodeValidation, "product is not sold from code stock")
	}

	rows := make([]*model.GiftCardCode, 0, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		encrypted, err := s.codec.Encrypt(code)
		if err != nil {
			return nil, fmt.Errorf("encrypt code: %w", err)
		}
		rows = append(rows, &model.GiftCardCode{
			ID:            uuid.NewString(),
			ProductID:     product.ID,
			Status:        model.CodeStatusAvailable,
			EncryptedCode: encrypted,
			Source:        model.SourceStock,
		})
	}
	if len(rows) == 0 {
		return nil, apperror.New(apperror.CodeValidation, "no codes given")
	}

	if err := s.inventoryRepo.CreateCodes(ctx, nil, rows); err != nil {
		return nil, fmt.Errorf("store codes: %w", err)
	}

	available, err := s.inventoryRepo.CountAvailable(ctx, product.ID)
	if err != nil {
		return nil, fmt.Errorf("count stock: %w", err)
	}
	return &dto.AddCodesResponse{ProductID: product.ID, Added: len(rows), Available: available}, nil
}

func (s *inventoryServiceImpl) AddStreamingAccount(ctx context.Context, productID, credentials string, maxProfiles int) (*model.StreamingAccount, error) {
	product, err := s.product(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Type != model.ProductTypeStreaming {
		return nil, apperror.New(apperror.CodeValidation, "product is not a streaming product")
	}
	if maxProfiles <= 0 {
		return nil, apperror.New(apperror.CodeValidation, "max profiles must be positive")
	}

	encrypted, err := s.codec.Encrypt(credentials)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}
	account := &model.StreamingAccount{
		ID:                   uuid.NewString(),
		ProductID:            product.ID,
		EncryptedCredentials: encrypted,
		MaxProfiles:          maxProfiles,
	}
	if err := s.inventoryRepo.CreateAccount(ctx, nil, account); err != nil {
		return nil, fmt.Errorf("store account: %w", err)
	}
	return account, nil
}

func (s *inventoryServiceImpl) StockLevel(ctx context.Context, productID string) (int64, error) {
	return s.inventoryRepo.CountAvailable(ctx, productID)
}

func (s *inventoryServiceImpl) RevealCodes(ctx context.Context, buyerID, orderID string) (*dto.OrderCodesResponse, error) {
	order, err := s.orderRepo.FindByID(ctx, nil, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && order.BuyerID != buyerID) {
		return nil, apperror.Wrap(apperror.CodeNotFound, gorm.ErrRecordNotFound, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	resp := &dto.OrderCodesResponse{OrderID: order.ID, Status: string(order.Status)}
	if order.Status != model.OrderStatusCompleted {
		return resp, nil
	}

	itemIDs := make([]string, 0, len(order.Items))
	byItem := make(map[string]*dto.DeliveredItem, len(order.Items))
	for _, item := range order.Items {
		itemIDs = append(itemIDs, item.ID)
		d := &dto.DeliveredItem{ItemID: item.ID, ProductID: item.ProductID, Delivered: item.IsDelivered}
		byItem[item.ID] = d
		resp.Items = append(resp.Items, d)
	}

	codes, err := s.inventoryRepo.CodesForItems(ctx, nil, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("get codes: %w", err)
	}
	for _, c := range codes {
		if c.Status != model.CodeStatusSold || c.OrderItemID == nil {
			continue
		}
		plain, err := s.codec.Decrypt(c.EncryptedCode)
		if err != nil {
			return nil, fmt.Errorf("decrypt code %s: %w", c.ID, err)
		}
		if d, ok := byItem[*c.OrderItemID]; ok {
			d.Codes = append(d.Codes, plain)
		}
	}

	profiles, err := s.inventoryRepo.ProfilesForItems(ctx, nil, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("get profiles: %w", err)
	}
	if len(profiles) == 0 {
		return resp, nil
	}

	accountIDs := make([]string, 0, len(profiles))
	for _, p := range profiles {
		accountIDs = append(accountIDs, p.AccountID)
	}
	accounts, err := s.inventoryRepo.AccountsByIDs(ctx, accountIDs)
	if err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}
	credentials := make(map[string]string, len(accounts))
	for _, a := range accounts {
		plain, err := s.codec.Decrypt(a.EncryptedCredentials)
		if err != nil {
			return nil, fmt.Errorf("decrypt account %s: %w", a.ID, err)
		}
		credentials[a.ID] = plain
	}

	for _, p := range profiles {
		d, ok := byItem[p.OrderItemID]
		if !ok {
			continue
		}
		access := &dto.ProfileAccess{
			SlotNumber: p.SlotNumber,
			StartsAt:   p.StartsAt,
			ExpiresAt:  p.ExpiresAt,
			Status:     string(p.Status),
		}
		if p.Status == model.ProfileStatusActive {
			access.Credentials = credentials[p.AccountID]
		}
		d.Profile = access
	}
	return resp, nil
}
